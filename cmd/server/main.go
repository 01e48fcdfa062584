package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gotrs-io/gotrs-mailverify/internal/api"
	"github.com/gotrs-io/gotrs-mailverify/internal/config"
	"github.com/gotrs-io/gotrs-mailverify/internal/database"
	"github.com/gotrs-io/gotrs-mailverify/internal/email/verify"
	"github.com/gotrs-io/gotrs-mailverify/internal/repository"
	"github.com/gotrs-io/gotrs-mailverify/internal/runner"
	"github.com/gotrs-io/gotrs-mailverify/internal/runner/tasks"
	"github.com/gotrs-io/gotrs-mailverify/internal/version"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath); err != nil {
		log.Fatalf("mailverify server: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(ctx, cfg.Database.Connection())
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("Connected to %s", cfg.Database.Connection().Redacted())

	if cfg.Database.AutoSchema {
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	a, err := buildApp(cfg, db, reg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	config.OnReload(func(c *config.Config) {
		a.handlers.SetCleanupDelay(c.Verify.ResultCleanupDelay)
	})

	if err := a.runner.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting mailverify %s on %s", version.String(), srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.runner.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	a.runner.Stop()
	if err := a.orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Printf("Verification shutdown: %v", err)
	}
	return nil
}

type app struct {
	router       *gin.Engine
	handlers     *api.MailVerifyHandlers
	orchestrator *verify.Orchestrator
	store        *verify.MemoryStore
	runner       *runner.Runner
}

func buildApp(cfg *config.Config, db *sqlx.DB, reg *prometheus.Registry) (*app, error) {
	var metrics *verify.Metrics
	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = verify.NewMetrics(reg)
	}

	store := verify.NewMemoryStore()
	accounts := repository.NewMailAccountRepository(db)

	orchestrator := verify.NewOrchestrator(
		verify.NewSMTPSender(verify.WithSMTPTimeout(cfg.Verify.SMTPTimeout)),
		verify.NewIMAPPoller(
			verify.WithIMAPDialTimeout(cfg.Verify.IMAPDialTimeout),
			verify.WithIMAPMetrics(metrics),
		),
		store,
		accounts,
		verify.WithMetrics(metrics),
	)

	handlers := api.NewMailVerifyHandlers(accounts, orchestrator, store, cfg.Verify.ResultCleanupDelay, nil)

	registry := runner.NewTaskRegistry()
	if err := registry.Register(tasks.NewResultSweepTask(store, cfg.Verify.ResultRetention, cfg.Verify.SweepSchedule, metrics)); err != nil {
		return nil, err
	}

	rc := api.RouterConfig{
		Handlers: handlers,
		DB:       db,
		Version:  version.String(),
	}
	if cfg.Metrics.Enabled {
		rc.Gatherer = reg
		rc.MetricsPath = cfg.Metrics.Path
	}

	return &app{
		router:       api.NewRouter(rc),
		handlers:     handlers,
		orchestrator: orchestrator,
		store:        store,
		runner:       runner.NewRunner(registry),
	}, nil
}
