package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/config"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/importer"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/logger"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/migrations"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/report"
	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/store"
)

// app is everything a command needs, built once per process
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *sql.DB
	store   store.Store
	cache   *report.Cache
	metrics *importer.Metrics
	server  *http.Server
}

var (
	current *app

	// flag overrides for a single run
	batchSize      int
	maxConcurrency int
	dryRun         bool
)

var rootCmd = &cobra.Command{
	Use:   "exam-data",
	Short: "Exam problem metadata importer",
	Long: `Imports exam problem metadata from CSV files, Excel workbooks and
Google Sheets, reconciles it with the stored problems and keeps their
validation issues current.

Run without arguments to start the interactive menu.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMenu(cmd.Context(), current)
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0, "records per batch (default from IMPORT_BATCH_SIZE)")
	rootCmd.PersistentFlags().IntVar(&maxConcurrency, "concurrency", 0, "batches in flight at once (default from IMPORT_MAX_CONCURRENCY)")
	rootCmd.AddCommand(importCmd, revalidateCmd, reportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dialect, err := store.DialectFor(cfg.DB.Driver)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, dialect, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := migrations.InitSchema(ctx, db, dialect.Name); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	s := store.NewSQL(db, dialect)

	a := &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: s,
		cache: report.NewCache(s, log),
	}

	reg := prometheus.NewRegistry()
	a.metrics = importer.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		log.Info("Serving metrics", "addr", cfg.MetricsAddr)
	}
	return a, nil
}

// newImporter builds an importer from config plus the flag overrides.
func (a *app) newImporter() *importer.Importer {
	ic := importer.ImportConfig{
		BatchSize:         a.cfg.Import.BatchSize,
		MaxConcurrency:    a.cfg.Import.MaxConcurrency,
		UpdateConcurrency: a.cfg.Import.UpdateConcurrency,
		MaxErrors:         a.cfg.Import.MaxErrors,
		DryRun:            dryRun,
	}
	if batchSize > 0 {
		ic.BatchSize = batchSize
	}
	if maxConcurrency > 0 {
		ic.MaxConcurrency = maxConcurrency
	}
	return importer.NewImporter(a.store, ic, a.log).
		WithMetrics(a.metrics).
		WithInvalidator(a.cache)
}

func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	a.db.Close()
	a.log.Sync()
}
