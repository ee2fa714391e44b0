package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sitebackup/internal/storage"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		env := strings.ToUpper(key)
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	t.Setenv("CONFIG_FILE", "")
	os.Unsetenv("CONFIG_FILE")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, storage.BackendRelay, cfg.StorageBackend)
	assert.Equal(t, 200, cfg.SplitSizeMB)
	assert.Equal(t, "tar.gz", cfg.ArchiveFormat)
	assert.Equal(t, 3, cfg.UploadConcurrency)
	assert.Equal(t, 300*time.Second, cfg.TransferTimeout)
	assert.Equal(t, 30*time.Second, cfg.ControlTimeout)
	assert.Equal(t, ":8095", cfg.HTTPListenAddr)
	assert.Equal(t, "", cfg.DatabaseURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_ENDPOINT", "https://s3.eu-central-1.wasabisys.com")
	t.Setenv("SPLIT_SIZE_MB", "75")
	t.Setenv("UPLOAD_CONCURRENCY", "9")
	t.Setenv("TRANSFER_TIMEOUT", "45s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.StorageBackend)
	assert.Equal(t, "https://s3.eu-central-1.wasabisys.com", cfg.S3Endpoint)
	assert.Equal(t, 75, cfg.SplitSizeMB)
	assert.Equal(t, int64(75)<<20, cfg.SplitSize())
	assert.Equal(t, 45*time.Second, cfg.TransferTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, storage.MaxConcurrency, cfg.UploadOptions().Concurrency)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sitebackup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site_id: site-from-file\nsplit_size_mb: 5000\nupload_concurrency: 2\n"), 0o640))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("UPLOAD_CONCURRENCY", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "site-from-file", cfg.SiteID)
	assert.Equal(t, int64(1000)<<20, cfg.SplitSize())
	assert.Equal(t, 1, cfg.UploadConcurrency)
}

func TestValidate_Relay_MissingFields(t *testing.T) {
	cfg := &Config{StorageBackend: storage.BackendRelay, ArchiveFormat: "tar.gz", ArchiveCompressor: "native"}
	err := cfg.Validate("backupctl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORK_DIR")
	assert.Contains(t, err.Error(), "SITE_ID")
	assert.Contains(t, err.Error(), "RELAY_ENDPOINT")
	assert.Contains(t, err.Error(), "RELAY_SITE_TOKEN")
	assert.Contains(t, err.Error(), "TENANT_ID")
}

func TestValidate_Relay_OptionsStoreSuppliesCredentials(t *testing.T) {
	cfg := &Config{
		WorkDir:           "/tmp/work",
		SiteID:            "site-1",
		StorageBackend:    storage.BackendRelay,
		DatabaseURL:       "postgres://localhost/options",
		ArchiveFormat:     "zip",
		ArchiveCompressor: "inprocess",
	}
	assert.NoError(t, cfg.Validate("backupctl"))
}

func TestValidate_S3_MissingFields(t *testing.T) {
	cfg := &Config{WorkDir: "/tmp", SiteID: "s", StorageBackend: storage.BackendS3, ArchiveFormat: "tar.gz", ArchiveCompressor: "native"}
	err := cfg.Validate("backupctl")
	require.Error(t, err)
	for _, key := range []string{"S3_ENDPOINT", "S3_BUCKET", "S3_ACCESS_KEY", "S3_SECRET_KEY", "TENANT_ID"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.NotContains(t, err.Error(), "RELAY_ENDPOINT")
}

func TestValidate_TenantRequired(t *testing.T) {
	cfg := &Config{
		WorkDir:           "/tmp",
		SiteID:            "s",
		StorageBackend:    storage.BackendS3,
		S3Endpoint:        "https://minio.example.com",
		S3Bucket:          "backups",
		S3AccessKey:       "AKID",
		S3SecretKey:       "secret",
		ArchiveFormat:     "tar.gz",
		ArchiveCompressor: "native",
	}
	err := cfg.Validate("backupctl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TENANT_ID is required")

	cfg.TenantID = "tenant-1"
	assert.NoError(t, cfg.Validate("backupctl"))
}

func TestValidate_BadEnums(t *testing.T) {
	cfg := &Config{WorkDir: "/tmp", SiteID: "s", StorageBackend: "ftp", ArchiveFormat: "rar", ArchiveCompressor: "7z"}
	err := cfg.Validate("backupctl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_BACKEND")
	assert.Contains(t, err.Error(), "ARCHIVE_FORMAT")
	assert.Contains(t, err.Error(), "ARCHIVE_COMPRESSOR")
}

func TestValidate_API_RequiresKey(t *testing.T) {
	cfg := &Config{
		WorkDir:           "/tmp",
		SiteID:            "s",
		StorageBackend:    storage.BackendRelay,
		TenantID:          "t",
		RelayEndpoint:     "https://relay.example.com",
		RelaySiteToken:    "tok",
		ArchiveFormat:     "tar.gz",
		ArchiveCompressor: "native",
	}
	assert.NoError(t, cfg.Validate("backupctl"))

	err := cfg.Validate("backup-api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
	assert.Contains(t, err.Error(), "HTTP_LISTEN_ADDR")
}

func TestAdapterConfig(t *testing.T) {
	cfg := &Config{
		StorageBackend: storage.BackendRelay,
		RelayEndpoint:  "https://relay.example.com",
		RelaySiteToken: "tok",
		SiteID:         "site-1",
		TenantID:       "tenant-1",
		ControlTimeout: 10 * time.Second,
	}
	ac := cfg.AdapterConfig()
	assert.Equal(t, storage.BackendRelay, ac.Backend)
	assert.Equal(t, "tok", ac.Relay.SiteToken)
	assert.Equal(t, "site-1", ac.Relay.SiteID)
	assert.Equal(t, 10*time.Second, ac.Relay.ControlTimeout)
	assert.Equal(t, storage.KeySpace{TenantID: "tenant-1", SiteID: "site-1"}, cfg.KeySpace())
}

func TestAdapterConfig_ObjectStoreTimeouts(t *testing.T) {
	cfg := &Config{
		StorageBackend:  storage.BackendS3,
		ControlTimeout:  10 * time.Second,
		TransferTimeout: 2 * time.Minute,
	}
	ac := cfg.AdapterConfig()
	assert.Equal(t, 10*time.Second, ac.ObjectStore.ControlTimeout)
	assert.Equal(t, 2*time.Minute, ac.ObjectStore.TransferTimeout)
}
