package webhook

import (
	"context"
	"encoding/json"
	stdErrors "errors"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/connections"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/endorser"
	"github.com/vadiminshakov/endorser/core/settings"
	"github.com/vadiminshakov/endorser/core/transactions"
)

//go:generate mockgen -destination=../../mocks/mock_identity.go -package=mocks . Identity

// Identity resolves the endorser's own public DID.
type Identity interface {
	PublicDID(ctx context.Context) (string, error)
}

// Connections is the connection registry as seen by the webhook handlers.
type Connections interface {
	Track(conn *dto.Connection) (*dto.Connection, error)
	Accept(ctx context.Context, connectionID string) (*dto.Connection, error)
	EnsureEndorserRole(ctx context.Context, connectionID string) error
}

// Transactions is the transaction record store as seen by the webhook handlers.
type Transactions interface {
	Store(txn *dto.Transaction) (*dto.Transaction, error)
	UpdateState(txn *dto.Transaction) (*dto.Transaction, error)
}

// Engine evaluates stored transactions.
type Engine interface {
	Evaluate(ctx context.Context, transactionID string) (*dto.Transaction, endorser.Decision, error)
}

// Flags resolves boolean settings.
type Flags interface {
	Bool(name string) bool
}

// Deps are the components the handlers and steppers drive.
type Deps struct {
	Connections  Connections
	Transactions Transactions
	Engine       Engine
	Flags        Flags
	Identity     Identity
}

// Routes builds the registry of every supported notification.
func Routes(d Deps) *Registry {
	r := NewRegistry()

	r.Handle(Event{Topic: TopicPing}, func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})

	for _, state := range dto.ConnectionStates {
		r.Handle(Event{Topic: TopicConnections, State: string(state)}, d.trackConnection)
	}
	r.Handle(Event{Topic: TopicConnections, State: string(dto.ConnCompleted)}, d.completeConnection)
	r.Step(Event{Topic: TopicConnections, State: string(dto.ConnRequest)}, d.acceptConnection)

	for _, state := range dto.TransactionStates {
		r.Handle(Event{Topic: TopicEndorseTransaction, State: string(state)}, d.updateTransaction)
	}
	r.Handle(Event{Topic: TopicEndorseTransaction, State: string(dto.TxnRequestRecv)}, d.storeTransaction)
	r.Step(Event{Topic: TopicEndorseTransaction, State: string(dto.TxnRequestRecv)}, d.evaluateTransaction)

	return r
}

func (d Deps) trackConnection(_ context.Context, payload json.RawMessage) (any, error) {
	conn, err := connections.FromWebhook(payload)
	if err != nil {
		return nil, err
	}
	return d.Connections.Track(conn)
}

// completeConnection also makes sure the endorser role is set on didexchange
// connections, which the agent does not do on its own.
func (d Deps) completeConnection(ctx context.Context, payload json.RawMessage) (any, error) {
	conn, err := connections.FromWebhook(payload)
	if err != nil {
		return nil, err
	}
	rec, err := d.Connections.Track(conn)
	if err != nil {
		return nil, err
	}

	if rec.Protocol == dto.ProtocolDIDExchange {
		if err := d.Connections.EnsureEndorserRole(ctx, rec.ConnectionID); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (d Deps) acceptConnection(ctx context.Context, payload json.RawMessage, _ any) error {
	if !d.Flags.Bool(settings.AutoAcceptConnections) {
		return nil
	}
	conn, err := connections.FromWebhook(payload)
	if err != nil {
		return err
	}
	_, err = d.Connections.Accept(ctx, conn.ConnectionID)
	return err
}

func (d Deps) storeTransaction(ctx context.Context, payload json.RawMessage) (any, error) {
	did, err := d.Identity.PublicDID(ctx)
	if err != nil {
		log.Warnf("endorser public DID unknown, storing transaction without it: %v", err)
		did = ""
	}

	txn, err := transactions.FromWebhook(payload, did)
	if err != nil {
		return nil, err
	}

	rec, err := d.Transactions.Store(txn)
	if stdErrors.Is(err, dto.ErrConflict) {
		return nil, errors.Wrapf(err, "transaction %s delivered twice", txn.TransactionID)
	}
	return rec, err
}

func (d Deps) updateTransaction(_ context.Context, payload json.RawMessage) (any, error) {
	txn, err := transactions.FromWebhook(payload, "")
	if err != nil {
		return nil, err
	}
	return d.Transactions.UpdateState(txn)
}

func (d Deps) evaluateTransaction(ctx context.Context, payload json.RawMessage, result any) error {
	id := ""
	if rec, ok := result.(*dto.Transaction); ok && rec != nil {
		id = rec.TransactionID
	} else {
		var n transactions.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			return errors.Wrap(err, "decode transaction notification")
		}
		id = n.TransactionID
	}
	if id == "" {
		return errors.Wrap(dto.ErrInvalidArgument, "notification has no transaction_id")
	}

	_, _, err := d.Engine.Evaluate(ctx, id)
	return err
}
