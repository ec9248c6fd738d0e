package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"program-trader/internal/alerts"
	"program-trader/internal/audit"
	"program-trader/internal/config"
	"program-trader/internal/dispatch"
	"program-trader/internal/market"
	"program-trader/internal/metrics"
	"program-trader/internal/program"
	"program-trader/internal/sandbox"
	"program-trader/internal/scheduler"
	"program-trader/internal/state/sqlite"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// App wires the full trigger path: the live feed keeps the metric store
// current, signal pools and interval tickers fire triggers, and the scheduler
// runs tenant programs through the sandbox into the paper dispatcher.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	market    *market.Store
	feed      *market.Feed
	audit     *audit.Writer
	metrics   *metrics.Prometheus
	alerts    *alerts.Telegram
	scheduler *scheduler.Scheduler
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	marketStore := market.NewStore()

	var feed *market.Feed
	if cfg.Feed.Enabled {
		feed = market.NewFeed(cfg.Feed.URL, cfg.Feed.ReconnectDelay, marketStore, log)
		for _, symbol := range cfg.Feed.Symbols {
			feed.SubscribeSymbol(symbol, "5m")
		}
	}

	auditWriter, err := audit.New(cfg.Audit, log)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)

	accounts := &market.StaticAccountSource{State: market.AccountState{
		AvailableBalance: cfg.Account.AvailableBalance,
		TotalEquity:      cfg.Account.TotalEquity,
		MaxLeverage:      cfg.Account.MaxLeverage,
		DefaultLeverage:  cfg.Account.DefaultLeverage,
	}}
	builder := market.NewBuilder(accounts, marketStore)

	dispatcher := dispatch.New(dispatch.NewPaper(log), store, log)

	sched := scheduler.New(
		scheduler.Config{
			Workers:          cfg.Scheduler.Workers,
			QueueSize:        cfg.Scheduler.QueueSize,
			SuspendThreshold: cfg.Scheduler.SuspendThreshold,
			PollInterval:     cfg.Scheduler.PollInterval,
			Budget:           sandbox.Budget{WallClock: cfg.Sandbox.WallClock, Steps: cfg.Sandbox.Steps},
		},
		builder, marketStore, store, dispatcher, auditWriter, prom.Metrics, alertsClient, log,
	)

	app := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		market:    marketStore,
		feed:      feed,
		audit:     auditWriter,
		metrics:   prom,
		alerts:    alertsClient,
		scheduler: sched,
	}
	if err := app.registerPools(); err != nil {
		store.Close()
		return nil, err
	}
	if err := app.registerBindings(); err != nil {
		store.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) registerPools() error {
	path := a.cfg.Scheduler.PoolsPath
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Pools []scheduler.Pool `yaml:"pools"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("pools config %s: %w", path, err)
	}
	for _, pool := range file.Pools {
		if err := a.scheduler.RegisterPool(pool); err != nil {
			return err
		}
		a.log.Info("pool registered",
			zap.String("pool", pool.Name),
			zap.String("logic", string(pool.Logic)),
			zap.Int("conditions", len(pool.Conditions)),
		)
	}
	return nil
}

func (a *App) registerBindings() error {
	for _, b := range a.cfg.Bindings {
		path := filepath.Join(a.cfg.Programs.Dir, b.Program)
		src, err := program.LoadSource(path)
		if err != nil {
			return fmt.Errorf("binding %s/%s: %w", b.Account, b.Strategy, err)
		}
		if report := program.Validate(src); !report.Valid {
			return fmt.Errorf("program %s is invalid: %v", src.Name, report.Errors)
		}
		compiled, err := program.Compile(src)
		if err != nil {
			return fmt.Errorf("program %s: %w", src.Name, err)
		}
		binding := scheduler.Binding{
			Account:  b.Account,
			Strategy: b.Strategy,
			Program:  compiled,
			Pools:    b.Pools,
			Interval: b.Interval,
		}
		if err := a.scheduler.Register(context.Background(), binding); err != nil {
			return err
		}
		a.log.Info("pair registered",
			zap.String("account", b.Account),
			zap.String("strategy", b.Strategy),
			zap.String("program", src.Name),
		)
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	a.audit.Start(ctx)
	defer a.audit.Close()

	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("feed stopped", zap.Error(err))
			}
		}()
	}

	var srv *http.Server
	if a.cfg.Metrics.Enabled {
		srv = a.serveHTTP()
	}

	a.scheduler.Start(ctx)
	a.log.Info("scheduler started",
		zap.Int("workers", a.cfg.Scheduler.Workers),
		zap.Int("pairs", len(a.cfg.Bindings)),
	)

	<-ctx.Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	a.scheduler.Wait()
	return ctx.Err()
}

// serveHTTP exposes the prometheus registry plus the pair management surface:
// status lookup and manual resume of suspended pairs.
func (a *App) serveHTTP() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/pairs/status", func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		strategy := r.URL.Query().Get("strategy")
		status, ok := a.scheduler.Status(account, strategy)
		if !ok {
			http.Error(w, "pair not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":          string(status.State),
			"fault_count":    status.FaultCount,
			"last_fault":     status.LastFault,
			"suspend_reason": status.SuspendReason,
		})
	})
	mux.HandleFunc("/pairs/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		account := r.URL.Query().Get("account")
		strategy := r.URL.Query().Get("strategy")
		switch err := a.scheduler.Resume(r.Context(), account, strategy); {
		case errors.Is(err, scheduler.ErrUnknownPair):
			http.Error(w, "pair not found", http.StatusNotFound)
		case errors.Is(err, scheduler.ErrNotSuspended):
			http.Error(w, "pair is not suspended", http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("http server stopped", zap.Error(err))
		}
	}()
	return srv
}
