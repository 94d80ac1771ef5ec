// Package dto provides the domain records shared between the endorser components.
//
// This package defines connections, transaction records, allow-list entries and
// configuration settings as they are persisted and exposed over the admin API.
package dto

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wildcard matches any value of an allow-list field.
const Wildcard = "*"

// AuthorStatus is the trust axis of a connection.
type AuthorStatus string

const (
	AuthorActive    AuthorStatus = "active"
	AuthorSuspended AuthorStatus = "suspended"
)

// EndorseStatus is the disposition axis of a connection.
type EndorseStatus string

const (
	AutoEndorse   EndorseStatus = "auto_endorse"
	ManualEndorse EndorseStatus = "manual_endorse"
	AutoReject    EndorseStatus = "auto_reject"
)

// ConnectionProtocol is the exchange protocol the connection was established with.
type ConnectionProtocol string

const (
	ProtocolConnections ConnectionProtocol = "connections/1.0"
	ProtocolDIDExchange ConnectionProtocol = "didexchange/1.0"
)

// ConnectionState mirrors the agent-side connection state.
type ConnectionState string

const (
	ConnStart      ConnectionState = "start"
	ConnInit       ConnectionState = "init"
	ConnInvitation ConnectionState = "invitation"
	ConnRequest    ConnectionState = "request"
	ConnResponse   ConnectionState = "response"
	ConnActive     ConnectionState = "active"
	ConnCompleted  ConnectionState = "completed"
	ConnAbandoned  ConnectionState = "abandoned"
	ConnError      ConnectionState = "error"
)

// ConnectionStates lists every known connection state.
var ConnectionStates = []ConnectionState{
	ConnStart, ConnInit, ConnInvitation, ConnRequest, ConnResponse,
	ConnActive, ConnCompleted, ConnAbandoned, ConnError,
}

// TransactionState mirrors the agent-side endorsement protocol state.
type TransactionState string

const (
	TxnCreated        TransactionState = "transaction_created"
	TxnRequestSent    TransactionState = "request_sent"
	TxnRequestRecv    TransactionState = "request_received"
	TxnEndorsed       TransactionState = "transaction_endorsed"
	TxnRefused        TransactionState = "transaction_refused"
	TxnResent         TransactionState = "transaction_resent"
	TxnResentReceived TransactionState = "transaction_resent_received"
	TxnCancelled      TransactionState = "transaction_cancelled"
	TxnAcked          TransactionState = "transaction_acked"
)

// TransactionStates lists every known transaction state.
var TransactionStates = []TransactionState{
	TxnCreated, TxnRequestSent, TxnRequestRecv, TxnEndorsed, TxnRefused,
	TxnResent, TxnResentReceived, TxnCancelled, TxnAcked,
}

// Connection is the endorser's view of one author agent.
type Connection struct {
	ID             string             `json:"contact_id"`
	ConnectionID   string             `json:"connection_id"`
	Protocol       ConnectionProtocol `json:"connection_protocol"`
	State          ConnectionState    `json:"state"`
	AuthorStatus   AuthorStatus       `json:"author_status"`
	EndorseStatus  EndorseStatus      `json:"endorse_status"`
	Alias          string             `json:"alias,omitempty"`
	TheirLabel     string             `json:"their_label,omitempty"`
	TheirDID       string             `json:"their_did,omitempty"`
	TheirPublicDID string             `json:"their_public_did,omitempty"`
	TheirRole      string             `json:"their_role,omitempty"`
	MyDID          string             `json:"my_did,omitempty"`
	Tags           []string           `json:"tags"`
	Version        uint64             `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Transaction is one endorsement request as seen by the endorser.
type Transaction struct {
	ID               string           `json:"endorse_request_id"`
	TransactionID    string           `json:"transaction_id"`
	ConnectionID     string           `json:"connection_id"`
	EndorserDID      string           `json:"endorser_did"`
	AuthorDID        string           `json:"author_did,omitempty"`
	TransactionType  string           `json:"transaction_type"`
	State            TransactionState `json:"state"`
	AuthorGoalCode   string           `json:"author_goal_code,omitempty"`
	LedgerTxn        string           `json:"ledger_txn,omitempty"`
	Request          json.RawMessage  `json:"transaction_request,omitempty"`
	SignatureRequest json.RawMessage  `json:"signature_request,omitempty"`
	Tags             []string         `json:"tags"`
	Version          uint64           `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// AllowedPublicDID pre-approves publishing of a DID.
type AllowedPublicDID struct {
	RegisteredDID string    `json:"registered_did"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AllowedSchema pre-approves schema writes.
type AllowedSchema struct {
	ID         string    `json:"allowed_schema_id"`
	AuthorDID  string    `json:"author_did"`
	SchemaName string    `json:"schema_name"`
	Version    string    `json:"version"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AllowedCredentialDefinition pre-approves credential definitions and, through the
// two flags, the revocation artifacts belonging to them.
type AllowedCredentialDefinition struct {
	ID          string    `json:"allowed_cred_def_id"`
	IssuerDID   string    `json:"issuer_did"`
	AuthorDID   string    `json:"author_did"`
	SchemaName  string    `json:"schema_name"`
	Version     string    `json:"version"`
	Tag         string    `json:"tag"`
	RevRegDef   bool      `json:"rev_reg_def"`
	RevRegEntry bool      `json:"rev_reg_entry"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConfigSource tells where an effective setting value came from.
type ConfigSource string

const (
	SourceDatabase    ConfigSource = "Database"
	SourceEnvironment ConfigSource = "Environment"
	SourceDefault     ConfigSource = "Default"
)

// ConfigSetting is a stored override of a named tunable.
type ConfigSetting struct {
	ID        string       `json:"config_id,omitempty"`
	Name      string       `json:"config_name"`
	Value     string       `json:"config_value"`
	Source    ConfigSource `json:"config_source"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
}

// Schema is a ledger schema resolved through the agent.
type Schema struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	SeqNo     int64    `json:"seqNo"`
	AttrNames []string `json:"attrNames,omitempty"`
}

// Page selects a 1-indexed page of results.
type Page struct {
	Num  int
	Size int
}

// DefaultPage is used when the caller gives no paging.
var DefaultPage = Page{Num: 1, Size: 10}

// MaxPageSize bounds the records returned in one page.
const MaxPageSize = 1000

// Skip returns the number of records before the page, saturating at math.MaxInt.
func (p Page) Skip() int {
	p = p.Normalize()
	if p.Num-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Num - 1) * p.Size
}

// Normalize replaces non-positive values with defaults and caps the size.
func (p Page) Normalize() Page {
	if p.Num < 1 {
		p.Num = DefaultPage.Num
	}
	if p.Size < 1 {
		p.Size = DefaultPage.Size
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Apply cuts the page out of a full result set.
func Apply[T any](items []T, p Page) []T {
	p = p.Normalize()
	skip := p.Skip()
	if skip >= len(items) {
		return []T{}
	}
	end := len(items)
	if len(items)-skip > p.Size {
		end = skip + p.Size
	}
	return items[skip:end]
}

// UnmarshalJSON accepts the revocation flags both as booleans and as "true"/"false" strings.
func (c *AllowedCredentialDefinition) UnmarshalJSON(data []byte) error {
	type plain AllowedCredentialDefinition
	aux := struct {
		*plain
		RevRegDef   flag `json:"rev_reg_def"`
		RevRegEntry flag `json:"rev_reg_entry"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.RevRegDef, c.RevRegEntry = bool(aux.RevRegDef), bool(aux.RevRegEntry)
	return nil
}

type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f = flag(v)
	return nil
}
