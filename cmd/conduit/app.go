package main

import (
	"context"
	"fmt"

	"github.com/tidewater-ai/conduit"
	"github.com/tidewater-ai/conduit/internal/catalog"
	"github.com/tidewater-ai/conduit/internal/credentials"
	"github.com/tidewater-ai/conduit/internal/health"
	"github.com/tidewater-ai/conduit/internal/logging"
	"github.com/tidewater-ai/conduit/internal/refresh"
	"github.com/tidewater-ai/conduit/internal/store"
	"github.com/tidewater-ai/conduit/internal/usage"
)

// app wires the shared components every verb needs: config, store, catalog,
// credentials, health, and the router.
type app struct {
	cfg     conduit.Config
	db      *store.DB
	catalog *catalog.Catalog
	health  *health.Tracker
	creds   *credentials.Store
	usage   *usage.Logger
	router  *conduit.Router
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := conduit.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if flagVerbose {
		level = "debug"
	}
	logging.Setup(level, cfg.Logging.Format)

	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN
	if driver == "" || driver == "sqlite" {
		if dsn, err = cfg.DatabasePath(); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	cat := catalog.New(db)
	if err := cat.Seed(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	keyPath, err := cfg.KeyPath()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	creds, err := credentials.Open(db, keyPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tracker := health.NewTracker(db)
	logger := usage.NewLogger(db)
	router, err := conduit.NewRouter(ctx, cfg, cat, tracker, creds, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		db:      db,
		catalog: cat,
		health:  tracker,
		creds:   creds,
		usage:   logger,
		router:  router,
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

func (a *app) refresher() *refresh.Refresher {
	return refresh.New(a.router, a.catalog, a.usage)
}
