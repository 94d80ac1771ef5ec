package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/endorser/config"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/core/ledger"
	"github.com/vadiminshakov/endorser/core/settings"
	"github.com/vadiminshakov/endorser/io/journal"
	"github.com/vadiminshakov/endorser/io/store"
)

// fakeAgent answers the admin API calls the endorser makes and remembers them.
type fakeAgent struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/wallet/did/public":
		io.WriteString(w, `{"result":{"did":"EndorserDID"}}`)
	case r.URL.Path == "/status/config":
		io.WriteString(w, `{"config":{"default_label":"endorser"}}`)
	case strings.HasSuffix(r.URL.Path, "/endorse"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/transactions/"), "/endorse")
		json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": id,
			"state":          dto.TxnEndorsed,
			"messages_attach": []any{map[string]any{"data": map[string]any{
				"json": `{"did":"AuthorPublicDID","signed":true}`,
			}}},
		})
	default:
		io.WriteString(w, `{}`)
	}
}

func (f *fakeAgent) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type node struct {
	t     *testing.T
	app   *app
	base  string
	token string
}

func startNode(t *testing.T, conf *config.Config) *node {
	conf.Addr = freeAddr(t)
	a, err := newApp(conf)
	require.NoError(t, err)
	require.NoError(t, a.start())

	n := &node{t: t, app: a, base: "http://" + conf.Addr}
	require.Eventually(t, func() bool {
		resp, err := http.Get(n.base + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.PostForm(n.base+"/endorser/token", url.Values{
		"username": {conf.AdminUser},
		"password": {conf.AdminKey},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	n.token = tok.AccessToken
	return n
}

func (n *node) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.app.stop(ctx)
}

func (n *node) webhook(topic string, payload any) {
	b, err := json.Marshal(payload)
	require.NoError(n.t, err)
	req, err := http.NewRequest(http.MethodPost, n.base+"/webhook/topic/"+topic+"/", strings.NewReader(string(b)))
	require.NoError(n.t, err)
	req.Header.Set("x-api-key", "hook-key")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(n.t, err)
	resp.Body.Close()
	require.Equal(n.t, http.StatusOK, resp.StatusCode)
}

func (n *node) admin(method, path string, out any) int {
	req, err := http.NewRequest(method, n.base+"/endorser/v1"+path, nil)
	require.NoError(n.t, err)
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(n.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(n.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func testConfig(t *testing.T, agentURL string) *config.Config {
	dir := t.TempDir()
	conf := config.Default()
	conf.DBPath = filepath.Join(dir, "badger")
	conf.JournalPath = filepath.Join(dir, "journal")
	conf.AgentURL = agentURL
	conf.AdminUser = "admin"
	conf.AdminKey = "secret"
	conf.JWTSecret = "jwt-secret"
	conf.WebhookAPIKey = "hook-key"
	return conf
}

func TestEndorsementSurvivesRestart(t *testing.T) {
	log.SetLevel(log.WarnLevel)
	t.Setenv(settings.AutoAcceptConnections, "true")
	t.Setenv(settings.AutoAcceptAuthors, "true")

	agent := &fakeAgent{}
	agentSrv := httptest.NewServer(agent)
	defer agentSrv.Close()

	conf := testConfig(t, agentSrv.URL)
	n := startNode(t, conf)

	n.webhook("connections", map[string]any{
		"connection_id":       "c1",
		"state":               dto.ConnRequest,
		"connection_protocol": dto.ProtocolConnections,
		"their_label":         "author agent",
	})
	assert.True(t, agent.called("POST /connections/c1/accept-request"))

	var entry struct {
		Topic string `json:"topic"`
		State string `json:"state"`
	}
	require.Equal(t, http.StatusOK, n.admin(http.MethodGet, "/admin/journal/0", &entry))
	assert.Equal(t, "connections", entry.Topic)
	assert.Equal(t, string(dto.ConnRequest), entry.State)

	n.webhook("connections", map[string]any{
		"connection_id":       "c1",
		"state":               dto.ConnActive,
		"connection_protocol": dto.ProtocolConnections,
	})

	n.webhook("endorse_transaction", map[string]any{
		"transaction_id": "tx1",
		"connection_id":  "c1",
		"state":          dto.TxnRequestRecv,
		"messages_attach": []any{map[string]any{"data": map[string]any{
			"json": `{"did":"AuthorPublicDID","verkey":"AuthorVerkey","alias":"author"}`,
		}}},
		"signature_request": []any{map[string]any{"author_goal_code": ledger.RegisterPublicDID}},
	})

	// nothing allows it yet
	var rec dto.Transaction
	require.Equal(t, http.StatusOK, n.admin(http.MethodGet, "/endorse/transactions/tx1", &rec))
	assert.Equal(t, dto.TxnRequestRecv, rec.State)
	assert.Equal(t, "EndorserDID", rec.EndorserDID)
	assert.False(t, agent.called("POST /transactions/tx1/endorse"))

	// allowing any first public DID endorses the waiting request
	require.Equal(t, http.StatusOK, n.admin(http.MethodPost, "/allow/publish-did/*", nil))
	assert.True(t, agent.called("POST /transactions/tx1/endorse"))

	require.Equal(t, http.StatusOK, n.admin(http.MethodGet, "/endorse/transactions/tx1", &rec))
	assert.Equal(t, dto.TxnEndorsed, rec.State)

	n.stop()

	// a second process over the same data sees the same state
	n = startNode(t, conf)
	defer n.stop()

	require.Equal(t, http.StatusOK, n.admin(http.MethodGet, "/endorse/transactions/tx1", &rec))
	assert.Equal(t, dto.TxnEndorsed, rec.State)

	var conn dto.Connection
	require.Equal(t, http.StatusOK, n.admin(http.MethodGet, "/connections/c1", &conn))
	assert.Equal(t, dto.ConnActive, conn.State)
	assert.Equal(t, dto.AuthorActive, conn.AuthorStatus)
}

func TestWebhookWithoutKeyIsRefused(t *testing.T) {
	log.SetLevel(log.WarnLevel)

	agentSrv := httptest.NewServer(&fakeAgent{})
	defer agentSrv.Close()

	n := startNode(t, testConfig(t, agentSrv.URL))
	defer n.stop()

	resp, err := http.Post(n.base+"/webhook/topic/connections/", "application/json",
		strings.NewReader(`{"connection_id":"c1","state":"request"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, n.admin(http.MethodGet, "/connections/c1", nil))
}

func TestInMemoryNode(t *testing.T) {
	log.SetLevel(log.WarnLevel)

	agentSrv := httptest.NewServer(&fakeAgent{})
	defer agentSrv.Close()

	conf := testConfig(t, agentSrv.URL)
	conf.DBPath = ""
	conf.JournalPath = ""
	n := startNode(t, conf)
	defer n.stop()

	var listing struct {
		EndorserConfig map[string]json.RawMessage `json:"endorser_config"`
	}
	require.Equal(t, http.StatusOK, n.admin(http.MethodGet, "/admin/config", &listing))
	assert.JSONEq(t, `"EndorserDID"`, string(listing.EndorserConfig["public_did"]))
	assert.Equal(t, http.StatusNotFound, n.admin(http.MethodGet, "/admin/journal/0", nil))
}

func TestNewAppFailsOnBadAgentURL(t *testing.T) {
	conf := testConfig(t, "")
	conf.Addr = freeAddr(t)
	a, err := newApp(conf)
	require.Error(t, err)
	assert.Nil(t, a)

	// the store and journal opened before the failure were closed again
	s, err := store.New(conf.DBPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	j, err := journal.Open(conf.JournalPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())
}
