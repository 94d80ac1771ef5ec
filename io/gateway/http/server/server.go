// Package server exposes the endorser admin API and the agent webhook endpoint.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/config"
	"github.com/vadiminshakov/endorser/core/allowlist"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/endorser/io/journal"
)

const apiPrefix = "/endorser/v1"

// Settings is the configuration store.
type Settings interface {
	Get(name string) (*dto.ConfigSetting, error)
	All() ([]*dto.ConfigSetting, error)
	Set(name, value string) (*dto.ConfigSetting, error)
}

// AllowLists is the allow-list store.
type AllowLists interface {
	AddPublicDID(did, details string) (*dto.AllowedPublicDID, error)
	ListPublicDIDs(did string, page dto.Page) ([]*dto.AllowedPublicDID, int, error)
	DeletePublicDID(did string) error
	AddSchema(entry dto.AllowedSchema) (*dto.AllowedSchema, error)
	ListSchemas(f allowlist.SchemaFilter, page dto.Page) ([]*dto.AllowedSchema, int, error)
	DeleteSchema(id string) error
	AddCredDef(entry dto.AllowedCredentialDefinition) (*dto.AllowedCredentialDefinition, error)
	ListCredDefs(f allowlist.CredDefFilter, page dto.Page) ([]*dto.AllowedCredentialDefinition, int, error)
	DeleteCredDef(id string) error
	Replace(b allowlist.Bulk) error
	Append(b allowlist.Bulk) error
}

// Connections is the connection registry.
type Connections interface {
	Get(connectionID string) (*dto.Connection, error)
	List(state dto.ConnectionState, page dto.Page) ([]*dto.Connection, int, error)
	UpdateInfo(connectionID, alias string, publicDID *string, version uint64) (*dto.Connection, error)
	UpdateConfig(connectionID string, author *dto.AuthorStatus, endorse *dto.EndorseStatus, version uint64) (*dto.Connection, error)
	Accept(ctx context.Context, connectionID string) (*dto.Connection, error)
}

// Transactions is the transaction record store.
type Transactions interface {
	Fetch(transactionID string) (*dto.Transaction, error)
	List(state dto.TransactionState, connectionID string, page dto.Page) ([]*dto.Transaction, int, error)
	Summary(connectionID string) (map[dto.TransactionState]int, error)
}

// Engine carries out endorsement decisions.
type Engine interface {
	Endorse(ctx context.Context, transactionID string) (*dto.Transaction, error)
	Reject(ctx context.Context, transactionID string) (*dto.Transaction, error)
	Reconcile(ctx context.Context) (int, error)
}

// Agent reports the agent's own state.
type Agent interface {
	PublicDID(ctx context.Context) (string, error)
	StatusConfig(ctx context.Context) (map[string]json.RawMessage, error)
}

// Dispatcher consumes webhook notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, topic string, payload json.RawMessage)
}

// Journal reads back journaled webhook notifications.
type Journal interface {
	Get(idx uint64) (*journal.Entry, error)
}

// Services are the components behind the routes. Journal may be nil.
type Services struct {
	Settings     Settings
	AllowLists   AllowLists
	Connections  Connections
	Transactions Transactions
	Engine       Engine
	Agent        Agent
	Dispatcher   Dispatcher
	Journal      Journal
}

// Server holds the http server, its config and the services it exposes.
type Server struct {
	Addr       string
	Config     *config.Config
	HTTPServer *http.Server
	svc        Services
	tokens     *tokenIssuer
	router     chi.Router
}

// New creates the server and its routes.
func New(conf *config.Config, svc Services) (*Server, error) {
	if err := checkServices(svc); err != nil {
		return nil, err
	}

	secret := conf.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, errors.Wrap(err, "generate jwt secret")
		}
		secret = hex.EncodeToString(buf)
		log.Warn("no jwt secret configured, admin tokens will not survive a restart")
	}
	tokens, err := newTokenIssuer(conf.JWTAlgorithm, []byte(secret), conf.JWTExpiry)
	if err != nil {
		return nil, err
	}

	s := &Server{Addr: conf.Addr, Config: conf, svc: svc, tokens: tokens}
	s.router = s.routes()
	return s, nil
}

func checkServices(svc Services) error {
	switch {
	case svc.Settings == nil:
		return errors.New("settings are not set")
	case svc.AllowLists == nil:
		return errors.New("allow lists are not set")
	case svc.Connections == nil:
		return errors.New("connections are not set")
	case svc.Transactions == nil:
		return errors.New("transactions are not set")
	case svc.Engine == nil:
		return errors.New("engine is not set")
	case svc.Agent == nil:
		return errors.New("agent is not set")
	case svc.Dispatcher == nil:
		return errors.New("dispatcher is not set")
	}
	return nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts non-blocking HTTP server
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.Addr)
	}
	log.Infof("listening on http://%s", l.Addr())

	s.HTTPServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.HTTPServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server stopped: %v", err)
		}
	}()
	return nil
}

// Stop stops server
func (s *Server) Stop(ctx context.Context) {
	if s.HTTPServer == nil {
		return
	}
	log.Info("stopping server")
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		log.Errorf("failed to stop http server gracefully: %v", err)
	}
	log.Info("server stopped")
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logFormatter{}), middleware.Recoverer)

	r.Get("/", s.liveness)
	r.Post("/endorser/token", s.issueToken)

	r.With(s.webhookKey).Post("/webhook/topic/{topic}/", s.webhook)
	r.With(s.webhookKey).Post("/webhook/topic/{topic}", s.webhook)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Use(s.bearer)

		api.Route("/allow", func(a chi.Router) {
			a.Get("/publish-did", s.listPublicDIDs)
			a.Post("/publish-did/{did}", s.addPublicDID)
			a.Delete("/publish-did/{did}", s.deletePublicDID)
			a.Get("/schema", s.listSchemas)
			a.Post("/schema", s.addSchema)
			a.Delete("/schema", s.deleteSchema)
			a.Get("/credential-definition", s.listCredDefs)
			a.Post("/credential-definition", s.addCredDef)
			a.Delete("/credential-definition", s.deleteCredDef)
			a.Post("/config", s.replaceAllowLists)
			a.Put("/config", s.appendAllowLists)
		})

		api.Route("/connections", func(c chi.Router) {
			c.Get("/", s.listConnections)
			c.Get("/{connection_id}", s.getConnection)
			c.Put("/{connection_id}", s.updateConnection)
			c.Put("/{connection_id}/configure", s.configureConnection)
			c.Post("/{connection_id}/accept", s.acceptConnection)
			c.Post("/{connection_id}/reject", s.rejectConnection)
		})

		api.Route("/endorse/transactions", func(t chi.Router) {
			t.Get("/", s.listTransactions)
			t.Get("/{transaction_id}", s.getTransaction)
			t.Post("/{transaction_id}/endorse", s.endorseTransaction)
			t.Post("/{transaction_id}/reject", s.rejectTransaction)
		})

		api.Route("/admin/config", func(c chi.Router) {
			c.Get("/", s.listSettings)
			c.Get("/{name}", s.getSetting)
			c.Post("/{name}", s.setSetting)
		})
		api.Get("/admin/journal/{index}", s.journalEntry)

		api.Get("/reports/summary", s.summary)
		api.Get("/reports/summary/{connection_id}", s.summary)
	})

	return r
}
