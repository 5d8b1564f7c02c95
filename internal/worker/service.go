// Package worker provides hookmill's attribution history service. Hook
// binaries talk to it over localhost HTTP; it owns the sqlite history
// database.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/db/sqlite"
	"github.com/hookmill/hookmill/internal/watcher"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// RetentionInterval is how often the retention loop runs.
	RetentionInterval = time.Hour

	// ToolEventMaxAge is how long raw tool events are kept.
	ToolEventMaxAge = 30 * 24 * time.Hour
)

// Service is the worker service orchestrator.
type Service struct {
	version string
	config  *config.Config

	// storeMu guards store and attributions, which the database watcher
	// swaps out if the file is deleted at runtime.
	storeMu      sync.RWMutex
	store        *sqlite.Store
	attributions *sqlite.AttributionStore

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	dbWatcher *watcher.Watcher
	metrics   *metrics

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewService creates a worker service with an open database.
func NewService(version string) (*Service, error) {
	cfg := config.Get()

	if err := config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("open attribution database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	svc := &Service{
		version:      version,
		config:       cfg,
		store:        store,
		attributions: sqlite.NewAttributionStore(store),
		router:       chi.NewRouter(),
		startTime:    time.Now(),
		metrics:      newMetrics(),
		ctx:          ctx,
		cancel:       cancel,
		group:        group,
	}

	svc.router.Use(middleware.Logger)
	svc.router.Use(middleware.Recoverer)
	svc.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	svc.setupRoutes()

	return svc, nil
}

// Start begins serving and launches the background loops.
func (s *Service) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.config.WorkerPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Recreate the database if it is deleted while we hold it open.
	dbWatcher, err := watcher.New(s.config.DBPath, s.reopenDatabase)
	if err != nil {
		log.Warn().Err(err).Msg("database watcher unavailable")
	} else {
		s.dbWatcher = dbWatcher
	}

	s.group.Go(s.retentionLoop)
	s.group.Go(func() error {
		log.Info().Str("addr", addr).Str("version", s.version).Msg("worker listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	return nil
}

// Shutdown stops the HTTP server and background loops.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.dbWatcher != nil {
		_ = s.dbWatcher.Close()
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
	}
	if err := s.group.Wait(); err != nil {
		log.Error().Err(err).Msg("background loop error")
	}

	s.storeMu.RLock()
	store := s.store
	s.storeMu.RUnlock()
	return store.Close()
}

// retentionLoop periodically prunes old tool events.
func (s *Service) retentionLoop() error {
	ticker := time.NewTicker(RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			pruned, err := s.history().PruneToolEvents(s.ctx, ToolEventMaxAge)
			if err != nil {
				log.Warn().Err(err).Msg("tool event retention")
				continue
			}
			if pruned > 0 {
				log.Info().Int64("pruned", pruned).Msg("pruned old tool events")
			}
		}
	}
}

// reopenDatabase rebuilds the sqlite store after its file was deleted.
func (s *Service) reopenDatabase() {
	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: s.config.DBPath, MaxConns: s.config.MaxConns})
	if err != nil {
		log.Error().Err(err).Msg("recreate attribution database")
		return
	}

	s.storeMu.Lock()
	old := s.store
	s.store = store
	s.attributions = sqlite.NewAttributionStore(store)
	s.storeMu.Unlock()

	_ = old.Close()
}

// history returns the current attribution store.
func (s *Service) history() *sqlite.AttributionStore {
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	return s.attributions
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/stats", s.handleStats)

	s.router.Post("/api/attributions", s.handleRecordAttribution)
	s.router.Get("/api/attributions/recent", s.handleRecentAttributions)
	s.router.Get("/api/attributions/{agentID}", s.handleAttributionsByAgent)

	s.router.Post("/api/events/tool-use", s.handleToolEvent)
}

// Router exposes the handler tree for tests.
func (s *Service) Router() http.Handler {
	return s.router
}
