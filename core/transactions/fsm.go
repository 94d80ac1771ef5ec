package transactions

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/endorser/core/dto"
)

var transitions = map[dto.TransactionState]map[dto.TransactionState]struct{}{
	dto.TxnCreated: {
		dto.TxnRequestSent: struct{}{},
		dto.TxnCancelled:   struct{}{},
	},
	dto.TxnRequestSent: {
		dto.TxnRequestRecv: struct{}{},
		dto.TxnCancelled:   struct{}{},
	},
	dto.TxnRequestRecv: {
		dto.TxnEndorsed:  struct{}{},
		dto.TxnRefused:   struct{}{},
		dto.TxnCancelled: struct{}{},
	},
	dto.TxnEndorsed: {
		dto.TxnResent:         struct{}{},
		dto.TxnResentReceived: struct{}{},
		dto.TxnAcked:          struct{}{},
		dto.TxnCancelled:      struct{}{},
	},
	dto.TxnRefused: {
		dto.TxnResent:         struct{}{},
		dto.TxnResentReceived: struct{}{},
		dto.TxnAcked:          struct{}{},
		dto.TxnCancelled:      struct{}{},
	},
	dto.TxnResent: {
		dto.TxnAcked: struct{}{},
	},
	dto.TxnResentReceived: {
		dto.TxnEndorsed:  struct{}{},
		dto.TxnRefused:   struct{}{},
		dto.TxnAcked:     struct{}{},
		dto.TxnCancelled: struct{}{},
	},
}

// Transition checks that a record may move from one state to the next.
// Staying in the same state is always allowed, since notifications get redelivered.
func Transition(from, to dto.TransactionState) error {
	if from == to || from == "" {
		return nil
	}
	if allowed, ok := transitions[from]; ok {
		if _, ok = allowed[to]; ok {
			return nil
		}
	}

	return errors.Wrapf(dto.ErrInvalidTransition, "%s -> %s", from, to)
}

// Decidable reports whether an endorse or refuse is valid from state.
func Decidable(state dto.TransactionState) bool {
	return state == dto.TxnRequestRecv || state == dto.TxnResentReceived
}
