package connections

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/settings"
	"github.com/vadiminshakov/endorser/io/store"
	"github.com/vadiminshakov/endorser/mocks"
	"go.uber.org/mock/gomock"
)

type flags map[string]bool

func (f flags) Bool(name string) bool { return f[name] }

func newTestRegistry(t *testing.T, agent Agent, f flags) *Registry {
	s, err := store.New(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, agent, f)
}

func TestStore_AuthorStatusFollowsSetting(t *testing.T) {
	r := newTestRegistry(t, nil, flags{})
	rec, err := r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)
	assert.Equal(t, dto.AuthorSuspended, rec.AuthorStatus)
	assert.Equal(t, dto.ManualEndorse, rec.EndorseStatus)
	assert.Equal(t, dto.ProtocolConnections, rec.Protocol)

	r = newTestRegistry(t, nil, flags{settings.AutoAcceptAuthors: true})
	rec, err = r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)
	assert.Equal(t, dto.AuthorActive, rec.AuthorStatus)

	_, err = r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	assert.True(t, errors.Is(err, dto.ErrConflict))
}

func TestUpdateStatus(t *testing.T) {
	r := newTestRegistry(t, nil, flags{})

	_, err := r.UpdateStatus(&dto.Connection{ConnectionID: "missing", State: dto.ConnActive})
	assert.True(t, errors.Is(err, dto.ErrNotFound))

	_, err = r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest, Alias: "author"})
	require.NoError(t, err)

	rec, err := r.UpdateStatus(&dto.Connection{ConnectionID: "c1", State: dto.ConnActive, Alias: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, dto.ConnActive, rec.State)
	assert.Equal(t, "author", rec.Alias)
	assert.Equal(t, uint64(2), rec.Version)
}

func TestTrack(t *testing.T) {
	r := newTestRegistry(t, nil, flags{})

	rec, err := r.Track(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)
	assert.Equal(t, dto.ConnRequest, rec.State)

	rec, err = r.Track(&dto.Connection{ConnectionID: "c1", State: dto.ConnCompleted})
	require.NoError(t, err)
	assert.Equal(t, dto.ConnCompleted, rec.State)

	// a late request does not rewind the connection
	rec, err = r.Track(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)
	assert.Equal(t, dto.ConnCompleted, rec.State)

	rec, err = r.Track(&dto.Connection{ConnectionID: "c1", State: dto.ConnAbandoned})
	require.NoError(t, err)
	assert.Equal(t, dto.ConnAbandoned, rec.State)
}

func TestAccept_RedeliveredRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agent := mocks.NewMockConnectionAgent(ctrl)
	r := newTestRegistry(t, agent, flags{})
	ctx := context.Background()

	agent.EXPECT().AcceptConnection(gomock.Any(), "c1", dto.ProtocolConnections).Return(nil).Times(1)
	agent.EXPECT().SetEndorserRole(gomock.Any(), "c1").Return(nil).Times(1)

	_, err := r.Track(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)
	_, err = r.Accept(ctx, "c1")
	require.NoError(t, err)

	// the agent delivers the same request notification again
	rec, err := r.Track(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)
	assert.Equal(t, dto.ConnResponse, rec.State)

	rec, err = r.Accept(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, dto.ConnResponse, rec.State)
	assert.Equal(t, uint64(2), rec.Version)
}

func TestBackwards(t *testing.T) {
	assert.True(t, backwards(dto.ConnResponse, dto.ConnRequest))
	assert.True(t, backwards(dto.ConnCompleted, dto.ConnInvitation))
	assert.False(t, backwards(dto.ConnRequest, dto.ConnResponse))
	assert.False(t, backwards(dto.ConnActive, dto.ConnCompleted))
	assert.False(t, backwards(dto.ConnCompleted, dto.ConnActive))
	assert.False(t, backwards(dto.ConnActive, dto.ConnError))
	assert.False(t, backwards(dto.ConnAbandoned, dto.ConnRequest))
}

func TestUpdateConfigAndInfo(t *testing.T) {
	r := newTestRegistry(t, nil, flags{})
	_, err := r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnActive})
	require.NoError(t, err)

	active, reject := dto.AuthorActive, dto.AutoReject
	rec, err := r.UpdateConfig("c1", &active, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, dto.AuthorActive, rec.AuthorStatus)
	assert.Equal(t, dto.ManualEndorse, rec.EndorseStatus)

	rec, err = r.UpdateConfig("c1", nil, &reject, rec.Version)
	require.NoError(t, err)
	assert.Equal(t, dto.AuthorActive, rec.AuthorStatus)
	assert.Equal(t, dto.AutoReject, rec.EndorseStatus)

	// stale version
	_, err = r.UpdateConfig("c1", nil, &reject, 1)
	assert.True(t, errors.Is(err, dto.ErrStaleRecord))

	bogus := dto.EndorseStatus("sometimes")
	_, err = r.UpdateConfig("c1", nil, &bogus, 0)
	assert.True(t, errors.Is(err, dto.ErrInvalidArgument))

	did := "did:public"
	rec, err = r.UpdateInfo("c1", "alias", &did, 0)
	require.NoError(t, err)
	assert.Equal(t, "alias", rec.Alias)
	assert.Equal(t, "did:public", rec.TheirPublicDID)

	rec, err = r.UpdateInfo("c1", "renamed", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "did:public", rec.TheirPublicDID)

	_, err = r.UpdateInfo("missing", "x", nil, 0)
	assert.True(t, errors.Is(err, dto.ErrNotFound))
}

func TestList(t *testing.T) {
	r := newTestRegistry(t, nil, flags{})
	for _, c := range []dto.Connection{
		{ConnectionID: "c1", State: dto.ConnRequest},
		{ConnectionID: "c2", State: dto.ConnActive},
		{ConnectionID: "c3", State: dto.ConnActive},
	} {
		c := c
		_, err := r.Store(&c)
		require.NoError(t, err)
	}

	got, total, err := r.List(dto.ConnActive, dto.DefaultPage)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, total)

	got, total, err = r.List("", dto.Page{Num: 1, Size: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, total)
}

func TestAccept(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agent := mocks.NewMockConnectionAgent(ctrl)
	r := newTestRegistry(t, agent, flags{})
	ctx := context.Background()

	_, err := r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest, Protocol: dto.ProtocolDIDExchange})
	require.NoError(t, err)

	agent.EXPECT().AcceptConnection(gomock.Any(), "c1", dto.ProtocolDIDExchange).Return(nil)
	agent.EXPECT().SetEndorserRole(gomock.Any(), "c1").Return(nil)

	rec, err := r.Accept(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, dto.ConnResponse, rec.State)

	// already accepted: no agent calls
	rec, err = r.Accept(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, dto.ConnResponse, rec.State)

	_, err = r.Accept(ctx, "missing")
	assert.True(t, errors.Is(err, dto.ErrNotFound))
}

func TestAccept_AgentFailureKeepsState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agent := mocks.NewMockConnectionAgent(ctrl)
	r := newTestRegistry(t, agent, flags{})

	_, err := r.Store(&dto.Connection{ConnectionID: "c1", State: dto.ConnRequest})
	require.NoError(t, err)

	agent.EXPECT().AcceptConnection(gomock.Any(), "c1", dto.ProtocolConnections).
		Return(dto.ErrExternalAgent)

	_, err = r.Accept(context.Background(), "c1")
	assert.True(t, errors.Is(err, dto.ErrExternalAgent))

	rec, err := r.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, dto.ConnRequest, rec.State)
}

func TestEnsureEndorserRole(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	agent := mocks.NewMockConnectionAgent(ctrl)
	r := newTestRegistry(t, agent, flags{})
	ctx := context.Background()

	// role already recorded
	agent.EXPECT().ConnectionMetadata(gomock.Any(), "c1").Return(map[string]json.RawMessage{
		"transaction-jobs": json.RawMessage(`{"transaction_my_job":"TRANSACTION_ENDORSER"}`),
	}, nil)
	require.NoError(t, r.EnsureEndorserRole(ctx, "c1"))

	// no metadata yet
	agent.EXPECT().ConnectionMetadata(gomock.Any(), "c2").Return(map[string]json.RawMessage{}, nil)
	agent.EXPECT().SetEndorserRole(gomock.Any(), "c2").Return(nil)
	require.NoError(t, r.EnsureEndorserRole(ctx, "c2"))
}

func TestFromWebhook(t *testing.T) {
	conn, err := FromWebhook(json.RawMessage(`{
		"connection_id": "c1", "state": "request", "connection_protocol": "didexchange/1.0",
		"their_label": "author agent", "their_did": "did:peer"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", conn.ConnectionID)
	assert.Equal(t, dto.ConnRequest, conn.State)
	assert.Equal(t, dto.ProtocolDIDExchange, conn.Protocol)
	assert.Equal(t, "author agent", conn.TheirLabel)

	_, err = FromWebhook(json.RawMessage(`{"state":"request"}`))
	assert.True(t, errors.Is(err, dto.ErrInvalidArgument))
}
