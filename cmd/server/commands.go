package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/bilan-engine/api"
	"github.com/warp/bilan-engine/config"
	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/factory"
	"github.com/warp/bilan-engine/logging"
	"github.com/warp/bilan-engine/metrics"
	"github.com/warp/bilan-engine/store/sqlite"
)

// app is built once per command from configuration and flags.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *sqlite.Store
	handler *api.Handler
}

type globalFlags struct {
	addr     string
	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "bilan-server",
		Short:         "Period-based activity aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "HTTP listen address")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(&flags),
		newClosePeriodCmd(&flags),
		newImportCmd(&flags),
		newBilanCmd(&flags),
	)
	return root
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *flags)
		},
	}
}

func newClosePeriodCmd(flags *globalFlags) *cobra.Command {
	var periodID, operator string

	cmd := &cobra.Command{
		Use:   "close-period",
		Short: "Close (send) a period and pin its activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*flags)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.handler.Registry.Close(cmd.Context(), engine.PeriodID(periodID), operator, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed period %s, pinned %d activities\n",
				result.Period, len(result.Pinned))
			return nil
		},
	}

	cmd.Flags().StringVar(&periodID, "period", "", "Period ID")
	cmd.Flags().StringVar(&operator, "operator", "", "Operator identity recorded on the period")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a referential JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*flags)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.importReferentials(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d activity types, %d rates, %d intervenants\n",
				result.ActivityTypes, result.Rates, result.Intervenants)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Referential JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newBilanCmd(flags *globalFlags) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "bilan",
		Short: "Print the bilan financier for a window as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := engine.ParseDate(start)
			if err != nil {
				return err
			}
			to, err := engine.ParseDate(end)
			if err != nil {
				return err
			}

			a, err := newApp(*flags)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.handler.Financier.Build(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.ToBilanFinanciersDTO(report))
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// =============================================================================
// WIRING
// =============================================================================

func newApp(flags globalFlags) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	if flags.dbPath != "" {
		cfg.DatabasePath = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	coefficient, err := cfg.Coefficient()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		handler: api.NewHandler(store, coefficient, cfg.RequireRate, logger),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	a.logger.Sync()
}

func (a *app) importReferentials(ctx context.Context, path string) (factory.ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return factory.ImportResult{}, fmt.Errorf("read referentials: %w", err)
	}
	refs, err := a.handler.Referentials.Parse(data)
	if err != nil {
		return factory.ImportResult{}, err
	}
	return a.handler.Referentials.Apply(ctx, a.handler.Planning, refs)
}

func runServe(ctx context.Context, flags globalFlags) error {
	a, err := newApp(flags)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.ReferentialPath != "" {
		result, err := a.importReferentials(ctx, a.cfg.ReferentialPath)
		if err != nil {
			return fmt.Errorf("boot import: %w", err)
		}
		a.logger.Info("referentials imported",
			zap.String("path", a.cfg.ReferentialPath),
			zap.Int("activity_types", result.ActivityTypes),
			zap.Int("rates", result.Rates),
			zap.Int("intervenants", result.Intervenants))
	}

	if a.cfg.MetricsEnabled {
		metrics.Init()
	}

	watcher := api.NewDeadlineWatcher(a.handler.Registry, a.logger)
	watcher.Start()
	defer watcher.Stop()

	router := api.NewRouter(a.handler, api.RouterConfig{
		AllowedOrigins: a.cfg.AllowedOrigins,
		MetricsEnabled: a.cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			zap.String("addr", a.cfg.Addr),
			zap.String("db", a.cfg.DatabasePath),
			zap.String("env", a.cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	a.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}
