// Package connections tracks the author agents connected to the endorser and the
// policy set for each of them.
package connections

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/settings"
	"github.com/vadiminshakov/endorser/io/store"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -destination=../../mocks/mock_connection_agent.go -package=mocks -mock_names Agent=MockConnectionAgent . Agent

// Agent is the part of the agent admin API the registry drives.
type Agent interface {
	AcceptConnection(ctx context.Context, connectionID string, protocol dto.ConnectionProtocol) error
	SetEndorserRole(ctx context.Context, connectionID string) error
	ConnectionMetadata(ctx context.Context, connectionID string) (map[string]json.RawMessage, error)
}

// Flags resolves boolean settings.
type Flags interface {
	Bool(name string) bool
}

// Registry is the connection registry, keyed by the agent's connection id.
type Registry struct {
	table  *store.Table[dto.Connection]
	agent  Agent
	flags  Flags
	accept singleflight.Group
}

// New creates the connection registry.
func New(s *store.Store, agent Agent, flags Flags) *Registry {
	return &Registry{
		table: store.NewTable[dto.Connection](s, "connection"),
		agent: agent,
		flags: flags,
	}
}

// Store creates the record of a connection seen for the first time. New authors are
// trusted only when auto-accepting authors is switched on.
func (r *Registry) Store(conn *dto.Connection) (*dto.Connection, error) {
	if conn.ConnectionID == "" {
		return nil, errors.Wrap(dto.ErrInvalidArgument, "connection_id is required")
	}

	rec := *conn
	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.EndorseStatus = dto.ManualEndorse
	rec.AuthorStatus = dto.AuthorSuspended
	if r.flags.Bool(settings.AutoAcceptAuthors) {
		rec.AuthorStatus = dto.AuthorActive
	}
	if rec.Protocol == "" {
		rec.Protocol = dto.ProtocolConnections
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	if err := r.table.Insert(rec.ConnectionID, &rec); err != nil {
		return nil, errors.Wrapf(err, "store connection %s", rec.ConnectionID)
	}

	log.Infof("stored connection %s (%s) from %q, author %s", rec.ConnectionID, rec.State, rec.TheirLabel, rec.AuthorStatus)
	return &rec, nil
}

// lifecycle ranks the states a connection passes through. active and completed are
// the same final state under the two protocols' names. abandoned and error are
// unranked and reachable from anywhere.
var lifecycle = map[dto.ConnectionState]int{
	dto.ConnStart:      0,
	dto.ConnInit:       1,
	dto.ConnInvitation: 2,
	dto.ConnRequest:    3,
	dto.ConnResponse:   4,
	dto.ConnActive:     5,
	dto.ConnCompleted:  5,
}

func backwards(from, to dto.ConnectionState) bool {
	f, okFrom := lifecycle[from]
	t, okTo := lifecycle[to]
	return okFrom && okTo && t < f
}

// UpdateStatus moves a known connection to the lifecycle state of conn. Redelivered
// notifications that would move it back to an earlier state are ignored.
func (r *Registry) UpdateStatus(conn *dto.Connection) (*dto.Connection, error) {
	rec, err := r.table.Mutate(conn.ConnectionID, func(rec *dto.Connection) error {
		if rec.State == conn.State {
			return nil
		}
		if backwards(rec.State, conn.State) {
			log.Debugf("connection %s is %s, ignoring late %s", rec.ConnectionID, rec.State, conn.State)
			return nil
		}
		rec.State = conn.State
		rec.Version++
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update connection %s", conn.ConnectionID)
	}

	log.Debugf("connection %s is now %s", rec.ConnectionID, rec.State)
	return rec, nil
}

// UpdateInfo sets the alias and, when given, the public DID of a connection.
// A non-zero version must match the stored one.
func (r *Registry) UpdateInfo(connectionID, alias string, publicDID *string, version uint64) (*dto.Connection, error) {
	rec, err := r.mutate(connectionID, version, func(rec *dto.Connection) {
		rec.Alias = alias
		if publicDID != nil {
			rec.TheirPublicDID = *publicDID
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update connection %s", connectionID)
	}

	log.Infof("connection %s info updated", connectionID)
	return rec, nil
}

// UpdateConfig sets the trust status and disposition of a connection; nil leaves a
// value as it is. A non-zero version must match the stored one.
func (r *Registry) UpdateConfig(connectionID string, author *dto.AuthorStatus, endorse *dto.EndorseStatus, version uint64) (*dto.Connection, error) {
	if author != nil && *author != dto.AuthorActive && *author != dto.AuthorSuspended {
		return nil, errors.Wrapf(dto.ErrInvalidArgument, "unknown author status %q", *author)
	}
	if endorse != nil && *endorse != dto.AutoEndorse && *endorse != dto.ManualEndorse && *endorse != dto.AutoReject {
		return nil, errors.Wrapf(dto.ErrInvalidArgument, "unknown endorse status %q", *endorse)
	}

	rec, err := r.mutate(connectionID, version, func(rec *dto.Connection) {
		if author != nil {
			rec.AuthorStatus = *author
		}
		if endorse != nil {
			rec.EndorseStatus = *endorse
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "configure connection %s", connectionID)
	}

	log.Infof("connection %s configured: author %s, endorse %s", connectionID, rec.AuthorStatus, rec.EndorseStatus)
	return rec, nil
}

func (r *Registry) mutate(connectionID string, version uint64, fn func(rec *dto.Connection)) (*dto.Connection, error) {
	return r.table.Mutate(connectionID, func(rec *dto.Connection) error {
		if version != 0 && rec.Version != version {
			return errors.Wrapf(dto.ErrStaleRecord, "version %d, stored %d", version, rec.Version)
		}
		fn(rec)
		rec.Version++
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Get returns the record of a connection.
func (r *Registry) Get(connectionID string) (*dto.Connection, error) {
	rec, err := r.table.Get(connectionID)
	if err != nil {
		return nil, errors.Wrapf(err, "get connection %s", connectionID)
	}
	return rec, nil
}

// List returns one page of connections, newest first, and the number of matching
// connections. An empty state matches every connection.
func (r *Registry) List(state dto.ConnectionState, page dto.Page) ([]*dto.Connection, int, error) {
	recs, err := r.table.List(func(c *dto.Connection) bool {
		return state == "" || c.State == state
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list connections")
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return dto.Apply(recs, page), len(recs), nil
}

// Accept asks the agent to accept a pending connection request and to act as
// endorser on it. Connections past the request state are returned unchanged.
func (r *Registry) Accept(ctx context.Context, connectionID string) (*dto.Connection, error) {
	v, err, _ := r.accept.Do(connectionID, func() (interface{}, error) {
		rec, err := r.Get(connectionID)
		if err != nil {
			return nil, err
		}
		if rec.State != dto.ConnRequest {
			log.Debugf("connection %s is %s, nothing to accept", connectionID, rec.State)
			return rec, nil
		}

		if err := r.agent.AcceptConnection(ctx, connectionID, rec.Protocol); err != nil {
			return nil, errors.Wrapf(err, "accept connection %s", connectionID)
		}
		if err := r.agent.SetEndorserRole(ctx, connectionID); err != nil {
			return nil, errors.Wrapf(err, "set endorser role on %s", connectionID)
		}

		log.Infof("accepted connection %s", connectionID)
		return r.UpdateStatus(&dto.Connection{ConnectionID: connectionID, State: dto.ConnResponse})
	})
	if err != nil {
		return nil, err
	}

	return v.(*dto.Connection), nil
}

// EnsureEndorserRole sets the endorser role on a connection unless the agent already
// recorded a transaction job for it.
func (r *Registry) EnsureEndorserRole(ctx context.Context, connectionID string) error {
	meta, err := r.agent.ConnectionMetadata(ctx, connectionID)
	if err != nil {
		return errors.Wrapf(err, "read metadata of %s", connectionID)
	}

	if raw, ok := meta["transaction-jobs"]; ok {
		var jobs map[string]json.RawMessage
		if err := json.Unmarshal(raw, &jobs); err == nil {
			if _, ok := jobs["transaction_my_job"]; ok {
				log.Debugf("connection %s already has a transaction job", connectionID)
				return nil
			}
		}
	}

	if err := r.agent.SetEndorserRole(ctx, connectionID); err != nil {
		return errors.Wrapf(err, "set endorser role on %s", connectionID)
	}

	log.Infof("endorser role set on connection %s", connectionID)
	return nil
}

// Track records a connection notification: the first one creates the record, later
// ones move its lifecycle state.
func (r *Registry) Track(conn *dto.Connection) (*dto.Connection, error) {
	rec, err := r.UpdateStatus(conn)
	if err == nil {
		return rec, nil
	}
	if !stdErrors.Is(err, dto.ErrNotFound) {
		return nil, err
	}

	rec, err = r.Store(conn)
	if stdErrors.Is(err, dto.ErrConflict) {
		// lost a race with a concurrent delivery
		return r.UpdateStatus(conn)
	}
	return rec, err
}

// FromWebhook normalizes a connections payload into a record.
func FromWebhook(payload json.RawMessage) (*dto.Connection, error) {
	var n struct {
		ConnectionID   string                 `json:"connection_id"`
		State          dto.ConnectionState    `json:"state"`
		Protocol       dto.ConnectionProtocol `json:"connection_protocol"`
		Alias          string                 `json:"alias"`
		TheirLabel     string                 `json:"their_label"`
		TheirDID       string                 `json:"their_did"`
		TheirPublicDID string                 `json:"their_public_did"`
		TheirRole      string                 `json:"their_role"`
		MyDID          string                 `json:"my_did"`
	}
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Wrap(err, "decode connection notification")
	}
	if n.ConnectionID == "" {
		return nil, errors.Wrap(dto.ErrInvalidArgument, "notification has no connection_id")
	}

	return &dto.Connection{
		ConnectionID:   n.ConnectionID,
		State:          n.State,
		Protocol:       n.Protocol,
		Alias:          n.Alias,
		TheirLabel:     n.TheirLabel,
		TheirDID:       n.TheirDID,
		TheirPublicDID: n.TheirPublicDID,
		TheirRole:      n.TheirRole,
		MyDID:          n.MyDID,
		Tags:           []string{},
	}, nil
}
