package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/config"
)

// NewLogger creates a structured zerolog.Logger with the site context fields
// from the config. Non-empty fields are added automatically.
func NewLogger(cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.TenantID != "" {
		ctx = ctx.Str("tenant_id", cfg.TenantID)
	}
	if cfg.SiteID != "" {
		ctx = ctx.Str("site_id", cfg.SiteID)
	}
	if cfg.StorageBackend != "" {
		ctx = ctx.Str("backend", cfg.StorageBackend)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
