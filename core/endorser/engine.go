// Package endorser decides the fate of transactions authors ask to have endorsed
// and carries the decision out through the agent.
//
// A request_received transaction is checked against, in order: the owning
// connection's auto-reject policy, the global or per-connection auto-endorse policy
// gated by the transaction type list, the allow lists, and finally the global
// reject-by-default switch. The first rule that applies wins; when none does the
// transaction is left for manual review.
package endorser

import (
	"context"
	"encoding/json"
	stdErrors "errors"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/allowlist"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/ledger"
	"github.com/vadiminshakov/endorser/core/settings"
	"github.com/vadiminshakov/endorser/core/transactions"
)

//go:generate mockgen -destination=../../mocks/mock_transaction_agent.go -package=mocks -mock_names Agent=MockTransactionAgent . Agent

// Agent is the part of the agent admin API the engine drives. Endorse and Refuse
// return the transaction record as the agent reports it afterwards.
type Agent interface {
	EndorseTransaction(ctx context.Context, transactionID string) (json.RawMessage, error)
	RefuseTransaction(ctx context.Context, transactionID string) (json.RawMessage, error)
	GetSchema(ctx context.Context, seqNo string) (*dto.Schema, error)
}

// Settings resolves the tunables the rules read.
type Settings interface {
	Bool(name string) bool
	CSV(name string) []string
}

// AllowLists answers allow-list membership queries.
type AllowLists interface {
	MatchPublicDID(did string) (bool, error)
	MatchSchema(authorDID, name, version string) (bool, error)
	MatchCredDef(q dto.AllowedCredentialDefinition, rev allowlist.Revocation) (bool, error)
}

// Connections looks up the connection a transaction arrived on.
type Connections interface {
	Get(connectionID string) (*dto.Connection, error)
}

// Records reads and writes transaction records.
type Records interface {
	Fetch(transactionID string) (*dto.Transaction, error)
	UpdateState(txn *dto.Transaction) (*dto.Transaction, error)
	Pending() ([]*dto.Transaction, error)
}

// Outcome is what should happen to a transaction.
type Outcome int

const (
	Pending Outcome = iota
	Endorse
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Endorse:
		return "endorse"
	case Reject:
		return "reject"
	default:
		return "pending"
	}
}

// Rule names the rule that produced a decision.
type Rule string

const (
	RuleConnectionReject Rule = "connection_auto_reject"
	RuleAutoEndorse      Rule = "auto_endorse"
	RuleAllowList        Rule = "allow_list"
	RuleRejectByDefault  Rule = "reject_by_default"
	RuleNone             Rule = "none"
)

// Decision is the result of evaluating the rules against one transaction.
type Decision struct {
	Outcome Outcome
	Rule    Rule
}

// Engine is the decision engine.
type Engine struct {
	agent       Agent
	settings    Settings
	lists       AllowLists
	connections Connections
	records     Records
	locks       keyedMutex
}

// New creates the decision engine.
func New(agent Agent, st Settings, lists AllowLists, conns Connections, records Records) *Engine {
	return &Engine{
		agent:       agent,
		settings:    st,
		lists:       lists,
		connections: conns,
		records:     records,
	}
}

// Decide runs the rules against txn without acting on the result. An unknown
// connection skips the connection rules.
func (e *Engine) Decide(ctx context.Context, txn *dto.Transaction) (Decision, error) {
	conn, err := e.connections.Get(txn.ConnectionID)
	if err != nil {
		if !stdErrors.Is(err, dto.ErrNotFound) {
			return Decision{}, err
		}
		log.Warnf("transaction %s arrived on unknown connection %q", txn.TransactionID, txn.ConnectionID)
	}

	if isAutoReject(conn) {
		return Decision{Outcome: Reject, Rule: RuleConnectionReject}, nil
	}

	eligible := e.settings.Bool(settings.AutoEndorseRequests) || isAutoEndorse(conn)
	if eligible && e.typeAllowed(txn.TransactionType) {
		return Decision{Outcome: Endorse, Rule: RuleAutoEndorse}, nil
	}

	allowed, err := e.allowListed(ctx, txn)
	if err != nil {
		return Decision{}, err
	}
	if allowed {
		return Decision{Outcome: Endorse, Rule: RuleAllowList}, nil
	}

	if e.settings.Bool(settings.RejectByDefault) {
		return Decision{Outcome: Reject, Rule: RuleRejectByDefault}, nil
	}

	return Decision{Outcome: Pending, Rule: RuleNone}, nil
}

func isAutoReject(conn *dto.Connection) bool {
	return conn != nil && conn.AuthorStatus == dto.AuthorActive && conn.EndorseStatus == dto.AutoReject
}

func isAutoEndorse(conn *dto.Connection) bool {
	return conn != nil && conn.AuthorStatus == dto.AuthorActive && conn.EndorseStatus == dto.AutoEndorse
}

// typeAllowed gates auto-endorsement on the transaction type list; an empty list
// allows every type.
func (e *Engine) typeAllowed(txnType string) bool {
	types := e.settings.CSV(settings.AutoEndorseTxnTypes)
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == txnType {
			return true
		}
	}
	return false
}

// allowListed checks the allow list that fits the transaction type. Malformed
// payloads never match; a failed schema lookup is an error.
func (e *Engine) allowListed(ctx context.Context, txn *dto.Transaction) (bool, error) {
	req, err := ledger.ParseRequest(txn.Request)
	if err != nil {
		log.Warnf("transaction %s: %v", txn.TransactionID, err)
		return false, nil
	}

	goal := txn.AuthorGoalCode
	author := txn.AuthorDID
	if author == "" {
		author = ledger.AuthorDID(req, goal)
	}
	op := req.Operation

	switch ledger.TypeOf(req, goal) {
	case ledger.TypeNym:
		did := ledger.TargetDID(req, goal)
		if did == "" {
			return false, nil
		}
		return e.lists.MatchPublicDID(did)

	case ledger.TypeSchema:
		schema, err := op.Schema()
		if err != nil {
			log.Warnf("transaction %s: %v", txn.TransactionID, err)
			return false, nil
		}
		return e.lists.MatchSchema(author, schema.Name, schema.Version)

	case ledger.TypeCredDef:
		ref, err := op.SchemaRef()
		if err != nil {
			log.Warnf("transaction %s: %v", txn.TransactionID, err)
			return false, nil
		}
		return e.matchCredDef(ctx, author, ref, op.Tag, allowlist.NoRevocation)

	case ledger.TypeRevRegDef:
		ref, err := ledger.ParseCredDefID(op.CredDefID)
		if err != nil {
			log.Warnf("transaction %s: %v", txn.TransactionID, err)
			return false, nil
		}
		return e.matchCredDef(ctx, ref.AuthorDID, ref.SchemaSeqNo, ref.Tag, allowlist.RevRegDef)

	case ledger.TypeRevRegEntry:
		ref, err := ledger.ParseRevRegDefID(op.RevocRegDefID)
		if err != nil {
			log.Warnf("transaction %s: %v", txn.TransactionID, err)
			return false, nil
		}
		return e.matchCredDef(ctx, ref.AuthorDID, ref.SchemaSeqNo, ref.Tag, allowlist.RevRegEntry)
	}

	return false, nil
}

// matchCredDef resolves the schema through the agent and checks the credential
// definition allow list.
func (e *Engine) matchCredDef(ctx context.Context, author, seqNo, tag string, rev allowlist.Revocation) (bool, error) {
	schema, err := e.agent.GetSchema(ctx, seqNo)
	if err != nil {
		return false, errors.Wrapf(err, "resolve schema %s", seqNo)
	}

	issuer, err := ledger.IssuerOf(schema.ID)
	if err != nil {
		return false, errors.Wrap(dto.ErrExternalAgent, err.Error())
	}

	return e.lists.MatchCredDef(dto.AllowedCredentialDefinition{
		IssuerDID:  issuer,
		AuthorDID:  author,
		SchemaName: schema.Name,
		Version:    schema.Version,
		Tag:        tag,
	}, rev)
}

// Evaluate decides a stored transaction and carries the decision out. Only records
// still in request_received are evaluated. Evaluation, reconciliation and manual
// decisions on the same transaction run one at a time, each re-reading the record.
func (e *Engine) Evaluate(ctx context.Context, transactionID string) (*dto.Transaction, Decision, error) {
	return e.evaluate(ctx, transactionID, true)
}

func (e *Engine) evaluate(ctx context.Context, transactionID string, applyReject bool) (*dto.Transaction, Decision, error) {
	unlock := e.locks.Lock(transactionID)
	defer unlock()

	rec, err := e.records.Fetch(transactionID)
	if err != nil {
		return nil, Decision{}, err
	}
	if rec.State != dto.TxnRequestRecv {
		log.Debugf("transaction %s is %s, nothing to decide", transactionID, rec.State)
		return rec, Decision{Outcome: Pending, Rule: RuleNone}, nil
	}

	d, err := e.Decide(ctx, rec)
	if err != nil {
		return nil, Decision{}, errors.Wrapf(err, "decide transaction %s", transactionID)
	}

	log.WithFields(log.Fields{
		"transaction_id": transactionID,
		"type":           rec.TransactionType,
		"outcome":        d.Outcome.String(),
		"rule":           string(d.Rule),
	}).Info("transaction evaluated")

	switch {
	case d.Outcome == Endorse:
		rec, err = e.endorse(ctx, rec)
	case d.Outcome == Reject && applyReject:
		rec, err = e.reject(ctx, rec)
	}
	if err != nil {
		return nil, Decision{}, err
	}

	return rec, d, nil
}

// Endorse endorses a transaction on an administrator's request.
func (e *Engine) Endorse(ctx context.Context, transactionID string) (*dto.Transaction, error) {
	unlock := e.locks.Lock(transactionID)
	defer unlock()

	rec, err := e.decidable(transactionID)
	if err != nil {
		return nil, err
	}
	return e.endorse(ctx, rec)
}

// Reject refuses a transaction on an administrator's request.
func (e *Engine) Reject(ctx context.Context, transactionID string) (*dto.Transaction, error) {
	unlock := e.locks.Lock(transactionID)
	defer unlock()

	rec, err := e.decidable(transactionID)
	if err != nil {
		return nil, err
	}
	return e.reject(ctx, rec)
}

func (e *Engine) decidable(transactionID string) (*dto.Transaction, error) {
	rec, err := e.records.Fetch(transactionID)
	if err != nil {
		return nil, err
	}
	if !transactions.Decidable(rec.State) {
		return nil, errors.Wrapf(dto.ErrInvalidTransition, "transaction %s is %s", transactionID, rec.State)
	}
	return rec, nil
}

func (e *Engine) endorse(ctx context.Context, rec *dto.Transaction) (*dto.Transaction, error) {
	raw, err := e.agent.EndorseTransaction(ctx, rec.TransactionID)
	if err != nil {
		return nil, errors.Wrapf(err, "endorse transaction %s", rec.TransactionID)
	}
	return e.record(rec, raw, dto.TxnEndorsed)
}

func (e *Engine) reject(ctx context.Context, rec *dto.Transaction) (*dto.Transaction, error) {
	raw, err := e.agent.RefuseTransaction(ctx, rec.TransactionID)
	if err != nil {
		return nil, errors.Wrapf(err, "refuse transaction %s", rec.TransactionID)
	}
	return e.record(rec, raw, dto.TxnRefused)
}

// record stores the state the agent reported after acting, falling back to the
// state the action implies when the reply carries none.
func (e *Engine) record(rec *dto.Transaction, reply json.RawMessage, fallback dto.TransactionState) (*dto.Transaction, error) {
	update := &dto.Transaction{TransactionID: rec.TransactionID, State: fallback}
	if reported, err := transactions.FromWebhook(reply, rec.EndorserDID); err == nil {
		if reported.State != "" {
			update.State = reported.State
		}
		update.LedgerTxn = reported.LedgerTxn
	} else {
		log.Debugf("agent reply for %s not usable, recording %s: %v", rec.TransactionID, fallback, err)
	}

	return e.records.UpdateState(update)
}

// Reconcile re-evaluates every transaction waiting for a decision and endorses
// those the current policy allows. Rejections are left for the next notification
// or an administrator. It returns the number of transactions endorsed.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	pending, err := e.records.Pending()
	if err != nil {
		return 0, errors.Wrap(err, "load pending transactions")
	}

	endorsed := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return endorsed, err
		}

		_, d, err := e.evaluate(ctx, rec.TransactionID, false)
		if err != nil {
			log.Errorf("reconcile transaction %s: %v", rec.TransactionID, err)
			continue
		}
		if d.Outcome == Endorse {
			endorsed++
		}
	}

	if endorsed > 0 {
		log.Infof("reconcile endorsed %d of %d pending transactions", endorsed, len(pending))
	}
	return endorsed, nil
}
