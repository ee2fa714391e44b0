package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/edvin/sitebackup/internal/archive"
	"github.com/edvin/sitebackup/internal/storage"
)

type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	ServiceName string `mapstructure:"service_name"`
	WorkDir     string `mapstructure:"work_dir"`

	StorageBackend string `mapstructure:"storage_backend"`
	RelayEndpoint  string `mapstructure:"relay_endpoint"`
	RelaySiteToken string `mapstructure:"relay_site_token"`
	TenantID       string `mapstructure:"tenant_id"`
	SiteID         string `mapstructure:"site_id"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`

	SplitSizeMB       int    `mapstructure:"split_size_mb"`
	ArchiveFormat     string `mapstructure:"archive_format"`
	ArchiveCompressor string `mapstructure:"archive_compressor"`
	CompressionLevel  int    `mapstructure:"compression_level"`

	UploadConcurrency int           `mapstructure:"upload_concurrency"`
	TransferTimeout   time.Duration `mapstructure:"transfer_timeout"`
	ControlTimeout    time.Duration `mapstructure:"control_timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`

	// DatabaseURL enables the options store. Stored relay settings override
	// the environment.
	DatabaseURL    string `mapstructure:"database_url"`
	HTTPListenAddr string `mapstructure:"http_listen_addr"`
	APIKey         string `mapstructure:"api_key"`
}

var defaults = map[string]any{
	"log_level":          "info",
	"service_name":       "sitebackup",
	"work_dir":           "/var/lib/sitebackup",
	"storage_backend":    storage.BackendRelay,
	"relay_endpoint":     "",
	"relay_site_token":   "",
	"tenant_id":          "",
	"site_id":            "",
	"s3_endpoint":        "",
	"s3_region":          "us-east-1",
	"s3_bucket":          "",
	"s3_access_key":      "",
	"s3_secret_key":      "",
	"split_size_mb":      200,
	"archive_format":     string(archive.FormatTarGz),
	"archive_compressor": archive.CompressorNative,
	"compression_level":  6,
	"upload_concurrency": storage.DefaultConcurrency,
	"transfer_timeout":   storage.DefaultTransferTimeout,
	"control_timeout":    storage.DefaultControlTimeout,
	"retry_attempts":     5,
	"database_url":       "",
	"http_listen_addr":   ":8095",
	"api_key":            "",
}

// Load reads the configuration from defaults, the optional YAML file named
// by CONFIG_FILE and the environment, in increasing precedence.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the fields a component needs are present and
// reports every missing one at once.
func (c *Config) Validate(component string) error {
	var errs []string
	require := func(value, name string) {
		if value == "" {
			errs = append(errs, name+" is required")
		}
	}

	require(c.WorkDir, "WORK_DIR")
	require(c.SiteID, "SITE_ID")

	switch c.StorageBackend {
	case storage.BackendRelay:
		// The options store may supply the relay settings.
		if c.DatabaseURL == "" {
			require(c.RelayEndpoint, "RELAY_ENDPOINT")
			require(c.RelaySiteToken, "RELAY_SITE_TOKEN")
			require(c.TenantID, "TENANT_ID")
		}
	case storage.BackendS3:
		require(c.TenantID, "TENANT_ID")
		require(c.S3Endpoint, "S3_ENDPOINT")
		require(c.S3Bucket, "S3_BUCKET")
		require(c.S3AccessKey, "S3_ACCESS_KEY")
		require(c.S3SecretKey, "S3_SECRET_KEY")
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND must be %q or %q, got %q", storage.BackendRelay, storage.BackendS3, c.StorageBackend))
	}

	if _, err := archive.ParseFormat(c.ArchiveFormat); err != nil {
		errs = append(errs, fmt.Sprintf("ARCHIVE_FORMAT: %v", err))
	}
	switch c.ArchiveCompressor {
	case archive.CompressorNative, archive.CompressorInProcess:
	default:
		errs = append(errs, fmt.Sprintf("ARCHIVE_COMPRESSOR must be %q or %q", archive.CompressorNative, archive.CompressorInProcess))
	}

	if component == "backup-api" {
		require(c.HTTPListenAddr, "HTTP_LISTEN_ADDR")
		require(c.APIKey, "API_KEY")
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing or invalid config: %s", strings.Join(errs, ", "))
	}
	return nil
}

// KeySpace returns the destination key namespace of the configured site.
func (c *Config) KeySpace() storage.KeySpace {
	return storage.KeySpace{TenantID: c.TenantID, SiteID: c.SiteID}
}

// AdapterConfig returns the storage settings for storage.New.
func (c *Config) AdapterConfig() storage.AdapterConfig {
	return storage.AdapterConfig{
		Backend: c.StorageBackend,
		Relay: storage.RelayConfig{
			Endpoint:        c.RelayEndpoint,
			SiteToken:       c.RelaySiteToken,
			SiteID:          c.SiteID,
			TenantID:        c.TenantID,
			ControlTimeout:  c.ControlTimeout,
			TransferTimeout: c.TransferTimeout,
		},
		ObjectStore: storage.ObjectStoreConfig{
			Endpoint:        c.S3Endpoint,
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			AccessKey:       c.S3AccessKey,
			SecretKey:       c.S3SecretKey,
			ControlTimeout:  c.ControlTimeout,
			TransferTimeout: c.TransferTimeout,
		},
	}
}

// SplitSize returns the clamped archive part size in bytes.
func (c *Config) SplitSize() int64 {
	return archive.ClampSplitSize(int64(c.SplitSizeMB) << 20)
}

// UploadOptions returns the upload pool settings.
func (c *Config) UploadOptions() storage.UploadOptions {
	retry := storage.DefaultRetryPolicy()
	if c.RetryAttempts > 0 {
		retry.Attempts = c.RetryAttempts
	}
	return storage.UploadOptions{
		Concurrency: storage.ClampConcurrency(c.UploadConcurrency),
		Timeout:     c.TransferTimeout,
		Retry:       retry,
	}
}
