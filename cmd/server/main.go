package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/postpipe/internal/config"
	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/logging"
	"github.com/postpipe/internal/render"
	"github.com/postpipe/internal/router"
	"github.com/postpipe/internal/service"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is what both subcommands need.
type app struct {
	cfg    config.AppConfig
	logger *slog.Logger
	svc    *service.Services
}

func (a *app) Close() {
	if err := db.Close(db.DB); err != nil {
		a.logger.Warn("close database", "error", err)
	}
}

// newApp loads config, opens the database and wires the services. The caller
// must defer app.Close().
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	renderer, err := render.NewRenderer(cfg.RenderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}
	registry, err := connector.FromConfig(cfg.Destinations, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("building connectors: %w", err)
	}

	var generator *service.GenerationService
	if cfg.AIAPIKey != "" {
		generator, err = service.NewGenerationService(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("creating generation service: %w", err)
		}
	} else {
		logger.Info("AI_API_KEY not set, generation endpoints disabled")
	}

	checks := make([]db.CheckType, 0, len(cfg.QADefaultChecks))
	for _, c := range cfg.QADefaultChecks {
		checks = append(checks, db.CheckType(c))
	}

	svc := service.New(db.DB, service.Options{
		Logger:           logger,
		Renderer:         renderer,
		Connectors:       registry,
		Generator:        generator,
		MaxAttempts:      cfg.PublishMaxAttempts,
		Backoff:          cfg.PublishBackoff,
		ConnectorTimeout: cfg.ConnectorTimeout,
		QACheckTimeout:   cfg.QACheckTimeout,
		DefaultChecks:    checks,
		SweepConcurrency: cfg.SchedulerConcurrency,
		DefaultOrgID:     cfg.DefaultOrgID,
	})
	return &app{cfg: cfg, logger: logger, svc: svc}, nil
}

var rootCmd = &cobra.Command{
	Use:          "postpipe",
	Short:        "Content lifecycle and publish orchestration",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the publish scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
		schedulerDone := make(chan struct{})
		if noScheduler {
			close(schedulerDone)
		} else {
			go func() {
				defer close(schedulerDone)
				_ = a.svc.Scheduler.Run(ctx, a.cfg.SchedulerInterval)
			}()
		}

		srv := &http.Server{
			Addr:              a.cfg.ListenAddr,
			Handler:           router.SetupRouter(a.cfg.SessionSecret, a.svc, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serveErr := make(chan error, 1)
		go func() {
			a.logger.Info("http server listening", "addr", srv.Addr)
			serveErr <- srv.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			stop()
			<-schedulerDone
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("running server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown", "error", err)
		}
		<-schedulerDone
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fire due scheduled publishes once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.svc.Scheduler.SweepOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Printf("due=%d claimed=%d published=%d failed=%d skipped=%d\n", report.Due, report.Claimed, report.Published, report.Failed, report.Skipped)
		return nil
	},
}

var destinationsCmd = &cobra.Command{
	Use:   "destinations",
	Short: "List configured publish destinations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		registry, err := connector.FromConfig(cfg.Destinations, &http.Client{})
		if err != nil {
			return err
		}
		for _, d := range registry.Destinations() {
			fmt.Printf("%-16s %-10s %s\n", d.ID, d.Type, d.Name)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("no-scheduler", false, "serve the API without running scheduled publishes")
	rootCmd.AddCommand(serveCmd, sweepCmd, destinationsCmd)
}
