package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/compose-network/rootchain/metrics"
	"github.com/compose-network/rootchain/rootchain-app/config"
	apisrv "github.com/compose-network/rootchain/server/api"
	"github.com/compose-network/rootchain/x/asset"
	"github.com/compose-network/rootchain/x/clock"
	"github.com/compose-network/rootchain/x/finalizer"
	"github.com/compose-network/rootchain/x/journal"
	"github.com/compose-network/rootchain/x/oracle"
	"github.com/compose-network/rootchain/x/rootchain"
	rootchainhttp "github.com/compose-network/rootchain/x/rootchain/http"
)

const shutdownTimeout = 30 * time.Second

// App represents the rootchain application
type App struct {
	cfg        *config.Config
	log        zerolog.Logger
	instanceID string
	startedAt  time.Time

	ledger    *rootchain.Ledger
	journal   journal.Journal
	finalizer *finalizer.Runner
	apiServer *apisrv.Server

	shutdownFns []func() error
	cancel      context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:        cfg,
		log:        log.With().Str("component", "app").Logger(),
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
	}

	if err := app.initialize(ctx, log); err != nil {
		_ = app.runShutdownFns()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context, log zerolog.Logger) error {
	if err := a.initializeJournal(log); err != nil {
		return err
	}

	if err := a.initializeLedger(ctx, log); err != nil {
		return err
	}

	if err := a.initializeFinalizer(log); err != nil {
		return err
	}

	a.initializeAPIServer(log)
	return nil
}

func (a *App) initializeJournal(log zerolog.Logger) error {
	if !a.cfg.Journal.Enabled {
		a.log.Warn().Msg("Event journal disabled, events are dropped after delivery")
		return nil
	}

	if a.cfg.Journal.Path == "" {
		a.journal = journal.NewMemory()
	} else {
		j, err := journal.OpenLevelDB(a.cfg.Journal.Path, log)
		if err != nil {
			return err
		}
		a.journal = j
	}
	a.shutdownFns = append(a.shutdownFns, a.journal.Close)
	return nil
}

func (a *App) initializeLedger(ctx context.Context, log zerolog.Logger) error {
	orc, err := oracle.New(a.cfg.Oracle, log)
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}

	assets, err := a.buildAssets()
	if err != nil {
		return err
	}

	deps := rootchain.Dependencies{
		Clock:  clock.System{},
		Oracle: orc,
		Assets: assets,
		Logger: log,
	}
	if a.journal != nil {
		deps.Sink = a.journal
		if deps.LastEventID, err = a.journal.Last(ctx); err != nil {
			return fmt.Errorf("failed to read journal position: %w", err)
		}
	}

	a.ledger, err = rootchain.New(a.cfg.Rootchain, deps)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

// buildAssets registers the configured tokens next to the native asset and
// applies opening balances.
func (a *App) buildAssets() (*asset.MemoryRegistry, error) {
	reg := asset.NewMemoryRegistry()
	for _, t := range a.cfg.Assets.Tokens {
		reg.Register(asset.NewMemory(common.HexToAddress(t)))
		a.log.Info().Str("token", t).Msg("Registered token")
	}

	for _, b := range a.cfg.Assets.Balances {
		addr := asset.NativeAddress
		if b.Asset != "" {
			addr = common.HexToAddress(b.Asset)
		}
		token, err := reg.Asset(addr)
		if err != nil {
			return nil, fmt.Errorf("opening balance: %w", err)
		}
		amount, err := uint256.FromDecimal(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("opening balance for %s: %w", b.Account, err)
		}
		if err := token.Credit(common.HexToAddress(b.Account), amount); err != nil {
			return nil, fmt.Errorf("opening balance for %s: %w", b.Account, err)
		}
	}
	return reg, nil
}

func (a *App) initializeFinalizer(log zerolog.Logger) error {
	if !a.cfg.Finalizer.Enabled {
		return nil
	}
	fcfg := finalizer.DefaultConfig(log)
	fcfg.Interval = a.cfg.Finalizer.Interval
	fcfg.MaxRequestsPerTick = a.cfg.Finalizer.MaxRequestsPerTick

	runner, err := finalizer.New(fcfg, a.ledger, nil)
	if err != nil {
		return fmt.Errorf("failed to create finalizer: %w", err)
	}
	a.finalizer = runner
	return nil
}

func (a *App) initializeAPIServer(log zerolog.Logger) {
	apiCfg := a.cfg.API
	if a.cfg.Metrics.Enabled {
		apiCfg.QuietPaths = append(slices.Clone(apiCfg.QuietPaths), a.cfg.Metrics.Path)
	}
	s := apisrv.NewServer(apiCfg, log)

	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	if a.cfg.Metrics.Enabled {
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	var events rootchainhttp.EventReader
	if a.journal != nil {
		events = a.journal
	}
	rootchainhttp.NewHandler(a.ledger, events, log).RegisterMux(s.Router)

	a.apiServer = s
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.finalizer != nil {
		if err := a.finalizer.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start finalizer: %w", err)
		}
	}

	go a.statsReporter(runCtx)

	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
			cancel()
		}
	}()

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().Str("instance_id", a.instanceID).Msg("Rootchain started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

// shutdown stops the finalizer, flushes pending events and closes the
// journal.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.finalizer != nil {
		if err := a.finalizer.Stop(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Finalizer shutdown error")
		}
	}

	if err := a.ledger.FlushEvents(shutdownCtx); err != nil {
		a.log.Error().Err(err).Int("pending_events", a.ledger.PendingEvents()).Msg("Undelivered events at shutdown")
	}

	err := a.runShutdownFns()
	a.log.Info().Msg("Graceful shutdown complete")
	return err
}

func (a *App) runShutdownFns() error {
	var firstErr error
	for _, fn := range a.shutdownFns {
		if err := fn(); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.shutdownFns = nil
	return firstErr
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, a.GetStats())
}

// GetStats returns application statistics.
func (a *App) GetStats() map[string]any {
	return map[string]any{
		"ledger":         a.ledger.Stats(),
		"instance_id":    a.instanceID,
		"uptime_seconds": time.Since(a.startedAt).Seconds(),
		"app_version":    Version,
		"app_build_time": BuildTime,
		"app_git_commit": GitCommit,
	}
}

// statsReporter periodically logs ledger statistics.
func (a *App) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.ledger.Stats()
			a.log.Info().
				Uint64("fork", s.CurrentFork).
				Uint64("last_block", s.LastBlock).
				Uint64("last_finalized_block", s.LastFinalizedBlock).
				Uint64("ero_requests", s.EnterExitRequests).
				Uint64("eru_requests", s.UserExitRequests).
				Int("pending_events", s.PendingEvents).
				Msg("Rootchain statistics")
		}
	}
}
