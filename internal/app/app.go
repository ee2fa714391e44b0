// Package app assembles the storage adapter, archive builder, job runner
// and catalog from loaded configuration. Both binaries share it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/archive"
	"github.com/edvin/sitebackup/internal/catalog"
	"github.com/edvin/sitebackup/internal/config"
	"github.com/edvin/sitebackup/internal/db"
	"github.com/edvin/sitebackup/internal/metrics"
	"github.com/edvin/sitebackup/internal/options"
	"github.com/edvin/sitebackup/internal/pipeline"
	"github.com/edvin/sitebackup/internal/storage"
)

// App holds the wired components of one process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Options *options.Store
	Adapter storage.Adapter
	Keys    storage.KeySpace
	Runner  *pipeline.Runner
	Catalog *catalog.Service
}

// Open connects the options database when configured, builds the storage
// adapter and the archive pipeline. Close must be called when done.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect options database: %w", err)
	}
	a.Pool = pool

	adapterCfg := cfg.AdapterConfig()
	var jobs catalog.JobStatusReader
	if pool != nil {
		metrics.RegisterPgxPoolMetrics(pool)
		a.Options = options.NewStore(pool)
		jobs = a.Options
		if adapterCfg.Backend == storage.BackendRelay {
			if err := a.Options.ApplyRelay(ctx, &adapterCfg.Relay); err != nil {
				a.Close()
				return nil, err
			}
		}
	}
	a.Keys = storage.KeySpace{TenantID: adapterCfg.Relay.TenantID, SiteID: adapterCfg.Relay.SiteID}
	if adapterCfg.Backend != storage.BackendRelay {
		a.Keys = cfg.KeySpace()
	}
	if err := a.Keys.Validate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("destination key space: %w", err)
	}

	adapter, err := storage.New(adapterCfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create storage adapter: %w", err)
	}
	a.Adapter = adapter

	format, err := archive.ParseFormat(cfg.ArchiveFormat)
	if err != nil {
		a.Close()
		return nil, err
	}
	compressor, err := archive.SelectCompressor(logger, format, cfg.ArchiveCompressor,
		archive.NewNativeCompressor(logger, cfg.CompressionLevel),
		archive.NewInProcessCompressor(logger, cfg.CompressionLevel),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	builder := archive.NewBuilder(logger, cfg.WorkDir, format, compressor)

	a.Runner = pipeline.NewRunner(logger, builder, adapter, a.Keys, pipeline.Config{
		WorkDir:   cfg.WorkDir,
		SplitSize: cfg.SplitSize(),
		Upload:    cfg.UploadOptions(),
	})

	local := catalog.NewLocalSource(logger, cfg.WorkDir, jobs)
	a.Catalog = catalog.NewService(logger, cfg.WorkDir, local,
		catalog.RecordSourceFor(logger, adapter, a.Keys), adapter, a.Keys)

	logger.Info().
		Str("backend", adapter.Backend()).
		Str("provider", adapter.Name()).
		Str("compressor", compressor.Name()).
		Str("format", string(format)).
		Bool("options_db", pool != nil).
		Msg("backup components ready")
	return a, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
