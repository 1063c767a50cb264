package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmodtools/cmodparams/agent/internal/alerts"
	"github.com/cmodtools/cmodparams/agent/internal/api"
	"github.com/cmodtools/cmodparams/agent/internal/auth"
	"github.com/cmodtools/cmodparams/agent/internal/compute"
	"github.com/cmodtools/cmodparams/agent/internal/config"
	"github.com/cmodtools/cmodparams/agent/internal/exporter"
	"github.com/cmodtools/cmodparams/agent/internal/poller"
	"github.com/cmodtools/cmodparams/agent/internal/scraper"
	"github.com/cmodtools/cmodparams/agent/internal/store"
	"github.com/cmodtools/cmodparams/agent/internal/ws"
	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/mdsip"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll configured shots and serve their parameters over HTTP",
		Long: `Poll every shot listed in the config file, keep the latest derived values
in memory and serve them:

  /api/v1/health, /api/v1/shots, /api/v1/shots/{shot},
  /api/v1/alerts, /api/v1/snapshot   JSON REST API
  /ws/stream                         WebSocket snapshot broadcast
  /metrics                           Prometheus exposition

With server.auth.mode apikey, /api/ and /metrics require the key header.
The shot list is reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("log-level") {
				slog.SetDefault(slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelInfo})))
			}
			slog.Info("cmodparams serve starting", "config", configPath, "version", version)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			opts.override(cmd, &cfg.MDSplus)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			return svc.run(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	return cmd
}

// override applies global flags given on the command line over the config file.
func (o *globalOptions) override(cmd *cobra.Command, m *config.MDSplusConfig) {
	if cmd.Flags().Changed("server") {
		m.Server = o.server
	}
	if cmd.Flags().Changed("user") {
		m.User = o.user
	}
	if cmd.Flags().Changed("timeout") {
		m.Timeout = o.timeout
	}
}

// service wires the polling pipeline to the HTTP surfaces.
type service struct {
	cfg    *config.Config
	store  *store.Store
	alerts *alerts.Engine
	hub    *ws.Hub
	poller *poller.Poller

	// mu orders result handling against reloads, so a result from a cycle
	// already in flight cannot re-add a shot a reload removed.
	mu         sync.Mutex
	configured map[int]bool
}

func newService(cfg *config.Config) (*service, error) {
	mdsOpts := []mdsip.Option{mdsip.WithTimeout(cfg.MDSplus.Timeout), mdsip.WithLogger(slog.Default())}
	if login := cfg.MDSplus.Login(); login != "" {
		mdsOpts = append(mdsOpts, mdsip.WithUser(login))
	}
	sc, err := scraper.New(cmod.New(cfg.MDSplus.Server, mdsOpts...))
	if err != nil {
		return nil, err
	}

	st := store.New(cfg.Server.SnapshotTTL)
	ae := alerts.New(cfg.Server.Alerts)
	hub := ws.New(st, cfg.Server.BroadcastInterval)

	s := &service{cfg: cfg, store: st, alerts: ae, hub: hub}
	s.poller = poller.New(poller.Config{
		Interval:    cfg.Agent.PollInterval,
		Concurrency: cfg.Agent.Concurrency,
		Timeout:     pollTimeout(cfg),
	}, sc, compute.NewEngine(), poller.ResultHandlerFunc(s.handle), slog.Default())
	s.setTargets(poller.TargetsFrom(cfg.Agent))
	s.poller.OnCycle(func(poller.Stats) { hub.Flush() })
	return s, nil
}

// handle stores and evaluates a result unless its shot is no longer
// configured.
func (s *service) handle(res *compute.Result) {
	s.mu.Lock()
	if !s.configured[res.Shot] {
		s.mu.Unlock()
		slog.Debug("serve: dropping result for removed shot", "shot", res.Shot)
		return
	}
	s.store.Put(res)
	s.mu.Unlock()

	s.alerts.Evaluate(res)
	s.hub.Mark(res.Shot)
}

// setTargets installs a shot list and returns how many stored shots it
// dropped.
func (s *service) setTargets(targets []poller.Target) int {
	shots := poller.Shots(targets)
	configured := make(map[int]bool, len(shots))
	for _, shot := range shots {
		configured[shot] = true
	}

	s.mu.Lock()
	s.configured = configured
	removed := s.store.Retain(shots)
	s.mu.Unlock()

	s.poller.SetTargets(targets)
	return removed
}

// pollTimeout bounds one shot's scrape. Signals are fetched concurrently, each
// on its own connection: a login then three exchanges.
func pollTimeout(cfg *config.Config) time.Duration {
	if cfg.MDSplus.Timeout <= 0 {
		return 0
	}
	return 4 * cfg.MDSplus.Timeout
}

func (s *service) mux() *http.ServeMux {
	a := s.cfg.Server.Auth
	protect := func(h http.Handler) http.Handler {
		return auth.APIKey(a.Mode, a.EffectiveHeader(), a.Key(), h)
	}
	m := http.NewServeMux()
	m.Handle("/api/", protect(api.New(s.store, s.alerts)))
	m.Handle("/ws/stream", s.hub)
	m.Handle("/metrics", protect(exporter.Handler(s.store)))
	return m
}

// reload applies a new shot list. Connection and server settings need a
// restart.
func (s *service) reload(cfg *config.Config) {
	targets := poller.TargetsFrom(cfg.Agent)
	removed := s.setTargets(targets)
	slog.Info("serve: shot list reloaded", "shots", len(targets), "removed", removed)
}

func (s *service) run(ctx context.Context, configPath string) error {
	slog.Info("config loaded",
		"mdsplus_server", s.cfg.MDSplus.Server,
		"shots", len(s.cfg.Agent.Shots),
		"poll_interval", s.cfg.Agent.PollInterval,
		"http_port", s.cfg.Server.HTTPPort,
	)

	go s.store.Run(ctx)
	go s.hub.Run(ctx)
	go s.poller.Run(ctx)

	go func() {
		if err := config.Watch(ctx, configPath, s.reload); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:           s.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", s.cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: http: %w", err)
	case <-ctx.Done():
	}

	slog.Info("cmodparams serve shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := httpSrv.Shutdown(shutdownCtx)
	s.alerts.Wait()
	return err
}
