// Package transactions records every endorsement request the endorser has seen.
package transactions

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/ledger"
	"github.com/vadiminshakov/endorser/io/store"
)

// Records is the transaction record store, keyed by the agent's transaction id.
type Records struct {
	table *store.Table[dto.Transaction]
}

// New binds the transaction table to the store.
func New(s *store.Store) *Records {
	return &Records{table: store.NewTable[dto.Transaction](s, "transaction")}
}

// Store creates the record for a transaction seen for the first time.
func (r *Records) Store(txn *dto.Transaction) (*dto.Transaction, error) {
	if txn.TransactionID == "" {
		return nil, errors.Wrap(dto.ErrInvalidArgument, "transaction_id is required")
	}

	rec := *txn
	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	if err := r.table.Insert(rec.TransactionID, &rec); err != nil {
		return nil, errors.Wrapf(err, "store transaction %s", rec.TransactionID)
	}

	log.Infof("stored transaction %s in state %s", rec.TransactionID, rec.State)
	return &rec, nil
}

// Fetch returns the record of a transaction.
func (r *Records) Fetch(transactionID string) (*dto.Transaction, error) {
	rec, err := r.table.Get(transactionID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch transaction %s", transactionID)
	}
	return rec, nil
}

// UpdateState writes the state and ledger snapshot of txn, creating the record
// when it does not exist yet. Moving backwards fails with dto.ErrInvalidTransition
// and leaves the record untouched; redelivery of the current state is a no-op.
func (r *Records) UpdateState(txn *dto.Transaction) (*dto.Transaction, error) {
	if txn.TransactionID == "" {
		return nil, errors.Wrap(dto.ErrInvalidArgument, "transaction_id is required")
	}

	var unchanged bool
	now := time.Now().UTC()
	rec, err := r.table.Upsert(txn.TransactionID, func(rec *dto.Transaction, exists bool) error {
		if !exists {
			*rec = *txn
			rec.ID = uuid.NewString()
			rec.Version = 1
			rec.CreatedAt, rec.UpdatedAt = now, now
			if rec.Tags == nil {
				rec.Tags = []string{}
			}
			return nil
		}

		if err := Transition(rec.State, txn.State); err != nil {
			return err
		}
		if rec.State == txn.State && (txn.LedgerTxn == "" || txn.LedgerTxn == rec.LedgerTxn) {
			unchanged = true
			return nil
		}

		rec.State = txn.State
		if txn.LedgerTxn != "" {
			rec.LedgerTxn = txn.LedgerTxn
		}
		if rec.ConnectionID == "" {
			rec.ConnectionID = txn.ConnectionID
		}
		rec.Version++
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update transaction %s", txn.TransactionID)
	}

	if !unchanged {
		log.Infof("transaction %s is now %s", rec.TransactionID, rec.State)
	}
	return rec, nil
}

// List returns one page of records, newest first, and the number of matching records.
// Empty filters match everything.
func (r *Records) List(state dto.TransactionState, connectionID string, page dto.Page) ([]*dto.Transaction, int, error) {
	recs, err := r.filter(state, connectionID)
	if err != nil {
		return nil, 0, err
	}
	return dto.Apply(recs, page), len(recs), nil
}

// Pending returns every record waiting for a decision, newest first.
func (r *Records) Pending() ([]*dto.Transaction, error) {
	return r.filter(dto.TxnRequestRecv, "")
}

// Summary counts records per state, optionally for one connection.
func (r *Records) Summary(connectionID string) (map[dto.TransactionState]int, error) {
	recs, err := r.filter("", connectionID)
	if err != nil {
		return nil, err
	}

	counts := make(map[dto.TransactionState]int, len(dto.TransactionStates))
	for _, s := range dto.TransactionStates {
		counts[s] = 0
	}
	for _, rec := range recs {
		counts[rec.State]++
	}
	return counts, nil
}

func (r *Records) filter(state dto.TransactionState, connectionID string) ([]*dto.Transaction, error) {
	recs, err := r.table.List(func(t *dto.Transaction) bool {
		return (state == "" || t.State == state) && (connectionID == "" || t.ConnectionID == connectionID)
	})
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}

// Notification is the agent's endorse_transaction webhook payload.
type Notification struct {
	TransactionID    string               `json:"transaction_id"`
	ConnectionID     string               `json:"connection_id"`
	State            dto.TransactionState `json:"state"`
	SignatureRequest json.RawMessage      `json:"signature_request"`
	MessagesAttach   []struct {
		Data struct {
			JSON json.RawMessage `json:"json"`
		} `json:"data"`
	} `json:"messages_attach"`
}

// FromWebhook normalizes an endorse_transaction payload into a record.
func FromWebhook(payload json.RawMessage, endorserDID string) (*dto.Transaction, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Wrap(err, "decode transaction notification")
	}
	if n.TransactionID == "" {
		return nil, errors.Wrap(dto.ErrInvalidArgument, "notification has no transaction_id")
	}

	var raw json.RawMessage
	if len(n.MessagesAttach) > 0 {
		raw = n.MessagesAttach[0].Data.JSON
	}
	body, err := ledger.Unquote(raw)
	if err != nil {
		return nil, err
	}
	req, err := ledger.ParseRequest(body)
	if err != nil {
		return nil, err
	}

	goal := goalCode(n.SignatureRequest)
	return &dto.Transaction{
		TransactionID:    n.TransactionID,
		ConnectionID:     n.ConnectionID,
		EndorserDID:      endorserDID,
		AuthorDID:        ledger.AuthorDID(req, goal),
		TransactionType:  ledger.TypeOf(req, goal),
		State:            n.State,
		AuthorGoalCode:   goal,
		LedgerTxn:        string(body),
		Request:          body,
		SignatureRequest: n.SignatureRequest,
		Tags:             []string{},
	}, nil
}

func goalCode(signatureRequest json.RawMessage) string {
	var reqs []struct {
		AuthorGoalCode string `json:"author_goal_code"`
	}
	if len(signatureRequest) == 0 || json.Unmarshal(signatureRequest, &reqs) != nil || len(reqs) == 0 {
		return ""
	}
	return reqs[0].AuthorGoalCode
}
