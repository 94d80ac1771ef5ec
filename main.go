package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/config"
	"github.com/vadiminshakov/endorser/core/allowlist"
	"github.com/vadiminshakov/endorser/core/connections"
	"github.com/vadiminshakov/endorser/core/endorser"
	"github.com/vadiminshakov/endorser/core/settings"
	"github.com/vadiminshakov/endorser/core/transactions"
	"github.com/vadiminshakov/endorser/core/webhook"
	"github.com/vadiminshakov/endorser/io/gateway/agent"
	"github.com/vadiminshakov/endorser/io/gateway/http/server"
	"github.com/vadiminshakov/endorser/io/journal"
	"github.com/vadiminshakov/endorser/io/store"
)

func main() {
	conf := config.Get()
	if err := conf.SetupLogging(); err != nil {
		log.Fatal(err)
	}

	a, err := newApp(conf)
	if err != nil {
		log.Fatalf("failed to create endorser: %v", err)
	}
	if err := a.start(); err != nil {
		a.stop(context.Background())
		log.Fatalf("failed to start endorser: %v", err)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.stop(ctx)
}

// app owns every long-lived component of the process.
type app struct {
	store    *store.Store
	journal  *journal.Journal
	settings *settings.Settings
	engine   *endorser.Engine
	server   *server.Server
}

// newApp builds every component. On failure whatever was opened is closed again.
func newApp(conf *config.Config) (*app, error) {
	a := &app{}
	if err := a.open(conf); err != nil {
		a.stop(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) open(conf *config.Config) (err error) {
	if conf.DBPath != "" {
		a.store, err = store.New(conf.DBPath)
	} else {
		log.Warn("no database path configured, records are kept in memory")
		a.store, err = store.NewInMemory()
	}
	if err != nil {
		return err
	}
	if conf.JournalPath != "" {
		if a.journal, err = journal.Open(conf.JournalPath); err != nil {
			return err
		}
	} else {
		log.Warn("webhook journal disabled")
	}

	client, err := agent.New(agent.Config{
		URL:         conf.AgentURL,
		APIKey:      conf.AgentAPIKey,
		WalletToken: conf.WalletToken,
	})
	if err != nil {
		return err
	}

	if a.settings, err = settings.New(a.store, nil); err != nil {
		return err
	}
	lists := allowlist.New(a.store)
	records := transactions.New(a.store)
	conns := connections.New(a.store, client, a.settings)
	a.engine = endorser.New(client, a.settings, lists, conns, records)

	routes := webhook.Routes(webhook.Deps{
		Connections:  conns,
		Transactions: records,
		Engine:       a.engine,
		Flags:        a.settings,
		Identity:     client,
	})
	var (
		j         webhook.Journal
		inspector server.Journal
	)
	if a.journal != nil {
		j, inspector = a.journal, a.journal
	}
	dispatcher := webhook.NewDispatcher(routes, j)
	log.Debugf("%d webhook handlers and steppers registered", routes.Count())

	if conf.WebhookAPIKey == "" {
		log.Warn("webhook api key is empty, webhooks are not authenticated")
	}

	a.server, err = server.New(conf, server.Services{
		Settings:     a.settings,
		AllowLists:   lists,
		Connections:  conns,
		Transactions: records,
		Engine:       a.engine,
		Agent:        client,
		Dispatcher:   dispatcher,
		Journal:      inspector,
	})
	if err != nil {
		return errors.Wrap(err, "create http server")
	}

	return nil
}

// start serves the API and endorses, in the background, whatever the current policy
// allows among the transactions left pending by a previous run.
func (a *app) start() error {
	if err := a.server.Run(); err != nil {
		return err
	}

	go func() {
		n, err := a.engine.Reconcile(context.Background())
		if err != nil {
			log.Errorf("startup reconciliation failed: %v", err)
			return
		}
		log.Infof("startup reconciliation endorsed %d pending transactions", n)
	}()
	return nil
}

func (a *app) stop(ctx context.Context) {
	if a.server != nil {
		a.server.Stop(ctx)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Errorf("failed to close journal: %v", err)
		}
	}
	if a.settings != nil {
		a.settings.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Errorf("failed to close db: %v", err)
		}
	}
}
