// Package app wires configuration, storage, services and background jobs
// into one runnable application.
package app

import (
	"context"
	"fmt"

	"github.com/onevisitor/onevisitor/internal/cache"
	"github.com/onevisitor/onevisitor/internal/config"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/metrics"
	analyticssvc "github.com/onevisitor/onevisitor/internal/services/analytics"
	"github.com/onevisitor/onevisitor/internal/services/maintenance"
	"github.com/onevisitor/onevisitor/internal/services/sites"
	"github.com/onevisitor/onevisitor/internal/services/tracker"
	"github.com/onevisitor/onevisitor/internal/services/users"
	"github.com/onevisitor/onevisitor/internal/storage"
	"github.com/onevisitor/onevisitor/internal/storage/memory"
	"github.com/onevisitor/onevisitor/internal/system"
)

// Stores bundles the persistence interfaces. Zero-value fields fall back to
// a shared in-memory store, which is what the tests use.
type Stores struct {
	Users     storage.UserStore
	Sites     storage.SiteStore
	Visitors  storage.VisitorStore
	Analytics storage.AnalyticsStore
}

func (s *Stores) applyDefaults() {
	var mem *memory.Store
	fallback := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Users == nil {
		s.Users = fallback()
	}
	if s.Sites == nil {
		s.Sites = fallback()
	}
	if s.Visitors == nil {
		s.Visitors = fallback()
	}
	if s.Analytics == nil {
		s.Analytics = fallback()
	}
}

// Application aggregates every service behind one lifecycle.
type Application struct {
	Config  *config.Config
	Log     *logging.Logger
	Metrics *metrics.Metrics
	Cache   *cache.Cache

	Users       *users.Service
	Sites       *sites.Service
	Tracker     *tracker.Service
	Analytics   *analyticssvc.Service
	Maintenance *maintenance.Service

	manager *system.Manager
}

// New wires the application. The caller owns the store handles.
func New(cfg *config.Config, stores Stores, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logging.NewDefault("app")
	}
	stores.applyDefaults()

	m := metrics.New()
	c := cache.New(cfg.Redis, log.WithComponent("cache"))

	userSvc, err := users.New(stores.Users, cfg.Auth, log.WithComponent("users"))
	if err != nil {
		return nil, fmt.Errorf("users service: %w", err)
	}
	siteSvc := sites.New(stores.Sites, stores.Users, log.WithComponent("sites"))
	trackerSvc := tracker.New(stores.Sites, stores.Visitors, c, m, cfg.Tracking, log.WithComponent("tracker"))
	analyticsSvc := analyticssvc.New(stores.Analytics, stores.Sites, c, log.WithComponent("analytics"))
	maintenanceSvc := maintenance.New(
		stores.Visitors, stores.Sites, stores.Users, analyticsSvc, c,
		cfg.Maintenance, cfg.Tracking.SessionIdleTimeout, log.WithComponent("maintenance"),
	)

	app := &Application{
		Config:      cfg,
		Log:         log,
		Metrics:     m,
		Cache:       c,
		Users:       userSvc,
		Sites:       siteSvc,
		Tracker:     trackerSvc,
		Analytics:   analyticsSvc,
		Maintenance: maintenanceSvc,
		manager:     system.NewManager(),
	}
	if err := app.manager.Register(maintenanceSvc); err != nil {
		return nil, err
	}
	return app, nil
}

// Start brings up the background services.
func (a *Application) Start(ctx context.Context) error {
	if a.Cache.Enabled() {
		if err := a.Cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	return a.manager.Start(ctx)
}

// Stop shuts the background services down in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.Cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
