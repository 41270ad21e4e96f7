// Package app wires indexnode's components into one running process: the
// entity store, chain store, mapping host, registrar, assignment provider,
// subscription engine, and HTTP/WebSocket transport, plus the concrete
// assignment.Runner (Runtime) that drives each assigned deployment's
// chain-sync loop. Grounded on the teacher's internal/app.Application /
// internal/app/runtime.Application split: a DI struct for collaborators, a
// constructor that wires concrete implementations behind the core's
// interfaces, and a system.Manager coordinating ordered start/stop.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/subgraphd/indexnode/internal/app/system"
	"github.com/subgraphd/indexnode/internal/assignment"
	"github.com/subgraphd/indexnode/internal/chain"
	"github.com/subgraphd/indexnode/internal/chainstore"
	chainstorepg "github.com/subgraphd/indexnode/internal/chainstore/postgres"
	"github.com/subgraphd/indexnode/internal/config"
	"github.com/subgraphd/indexnode/internal/entitystore"
	entitystorepg "github.com/subgraphd/indexnode/internal/entitystore/postgres"
	"github.com/subgraphd/indexnode/internal/httpapi"
	"github.com/subgraphd/indexnode/internal/mappinghost"
	"github.com/subgraphd/indexnode/internal/platform/migrations"
	"github.com/subgraphd/indexnode/internal/registrar"
	"github.com/subgraphd/indexnode/internal/subscription"
	pkgerrors "github.com/subgraphd/indexnode/pkg/errors"
	"github.com/subgraphd/indexnode/pkg/logger"
	"github.com/subgraphd/indexnode/pkg/pgnotify"
)

// Dependencies collects the boundary implementations the core treats as
// external (spec §1 Non-goals): chain-specific RPC adapters, content
// fetching, the deployment manifest reader, on-chain event decoding, and
// the subscription query-language resolver. Any left nil are filled with
// conservative no-op defaults by applyDefaults, the way the teacher's
// Stores.applyDefaults fills unset stores with in-memory ones.
type Dependencies struct {
	Chains      map[string]chain.Adapter
	Content     mappinghost.ContentFetcher
	DataSources DataSourceResolver
	Events      EventDecoder
	Resolve     httpapi.FieldResolver
}

func (d Dependencies) applyDefaults() Dependencies {
	if d.Chains == nil {
		d.Chains = map[string]chain.Adapter{}
	}
	if d.Content == nil {
		d.Content = noopContentFetcher{}
	}
	if d.DataSources == nil {
		d.DataSources = noopDataSourceResolver{}
	}
	if d.Events == nil {
		d.Events = noopEventDecoder{}
	}
	if d.Resolve == nil {
		d.Resolve = noopFieldResolver
	}
	return d
}

// Application owns every long-running component of one indexnode process.
type Application struct {
	cfg config.Config
	log *logger.Logger
	db  *sql.DB

	Entities   entitystore.Store
	Chains     chainstore.Store
	Host       *mappinghost.Host
	Registrar  *registrar.Registrar
	Runtime    *Runtime
	Assignment *assignment.Provider
	Subscriber *subscription.Engine
	HTTP       *httpapi.Server

	manager    *system.Manager
	httpServer *http.Server
}

// New opens the database, applies migrations, and wires every component.
// It does not start anything; call Start to run the managed services.
func New(cfg config.Config, deps Dependencies, log *logger.Logger) (*Application, error) {
	deps = deps.applyDefaults()

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := migrations.Apply(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	notifyBus, err := pgnotify.NewWithDB(db, cfg.Database.DSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start change-notify bus: %w", err)
	}

	entities, err := entitystorepg.New(db, notifyBus, entitystorepg.Config{
		SchemaCacheCapacity: cfg.Store.SchemaCacheCapacity,
	}, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build entity store: %w", err)
	}

	chains := chainstorepg.New(db)

	host := mappinghost.New(mappinghost.Config{
		Store:   entities,
		Chains:  deps.Chains,
		Content: deps.Content,
	}, log)

	reg := registrar.New(entities, chains, log)

	runtime := NewRuntime(RuntimeConfig{
		Entities:     entities,
		Chains:       chains,
		Adapters:     deps.Chains,
		Host:         host,
		Resolver:     deps.DataSources,
		Decoder:      deps.Events,
		PollInterval: cfg.Chain.PollInterval,
		AncestorScan: cfg.Chain.AncestorScan,
	}, log)

	provider := assignment.New(assignment.Config{
		Store:         entities,
		Runner:        runtime,
		SelfNodeID:    cfg.NodeID,
		ReconcileCron: cfg.Assignment.ReconcileCron,
	}, log)

	subscriber := subscription.New(entities, log)

	server := httpapi.NewServer(entities, subscriber, deps.Resolve, log)

	application := &Application{
		cfg:        cfg,
		log:        log.Component("app"),
		db:         db,
		Entities:   entities,
		Chains:     chains,
		Host:       host,
		Registrar:  reg,
		Runtime:    runtime,
		Assignment: provider,
		Subscriber: subscriber,
		HTTP:       server,
		manager:    system.NewManager(),
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: server.Router(),
		},
	}

	if err := application.manager.Register(&assignmentService{provider: provider}); err != nil {
		return nil, err
	}
	if err := application.manager.Register(&httpService{srv: application.httpServer, log: application.log}); err != nil {
		return nil, err
	}

	return application, nil
}

// Start starts every managed service in registration order (assignment
// reconciliation before the HTTP front end, so early requests don't race a
// not-yet-reconciled assignment set).
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops every managed service in reverse order and closes the
// database connection pool.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if closeErr := a.db.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close database: %w", closeErr)
	}
	return err
}

// assignmentService adapts assignment.Provider's Run/Stop into the
// system.Service Start/Stop shape: Run blocks, so Start launches it in a
// goroutine and reports only setup errors synchronously.
type assignmentService struct {
	provider *assignment.Provider
	runErr   chan error
}

func (s *assignmentService) Name() string { return "assignment" }

func (s *assignmentService) Start(ctx context.Context) error {
	s.runErr = make(chan error, 1)
	go func() {
		s.runErr <- s.provider.Run(ctx)
	}()
	select {
	case err := <-s.runErr:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *assignmentService) Stop(ctx context.Context) error {
	s.provider.Stop()
	return nil
}

type httpService struct {
	srv *http.Server
	log *logger.Logger
}

func (s *httpService) Name() string { return "httpapi" }

func (s *httpService) Start(ctx context.Context) error {
	ln := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ln <- err
			return
		}
		ln <- nil
	}()
	select {
	case err := <-ln:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *httpService) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type noopContentFetcher struct{}

func (noopContentFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return nil, pkgerrors.MalformedInput("content fetcher not configured")
}

type noopDataSourceResolver struct{}

func (noopDataSourceResolver) DataSources(ctx context.Context, deployment string) ([]mappinghost.DataSource, error) {
	return nil, nil
}

type noopEventDecoder struct{}

func (noopEventDecoder) DecodeEvents(ctx context.Context, block chainstore.Block, dataSources []mappinghost.DataSource) ([]mappinghost.Event, error) {
	return nil, nil
}

func noopFieldResolver(ctx context.Context, deployment string, payload json.RawMessage) (subscription.Document, error) {
	return subscription.Document{}, pkgerrors.MalformedInput("subscription query resolution not configured")
}
