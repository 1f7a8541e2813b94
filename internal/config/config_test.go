package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[staging]
dir = "/data/staging"

[checkpoint]
dir = "/data/checkpoints"

[objectstore]
region = "eu-west-1"
endpoint = "http://minio.local:9000"
use_path_style = true
default_bucket = "invoices"

[extraction]
base_url = "https://api.example.com"
timeout = "300s"
concurrency = 10
requests_per_second = 4

[sync]
download_limit = 500

[logging]
log_level = "debug"
log_format = "json"

[[buckets]]
bucket = "invoices"
prefix = "acme/bob"
tenant = "acme"
purchaser = "bob"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/staging", cfg.Staging.Dir)
	assert.Equal(t, "eu-west-1", cfg.ObjectStore.Region)
	assert.True(t, cfg.ObjectStore.UsePathStyle)
	assert.Equal(t, 10, cfg.Extraction.Concurrency)
	assert.Equal(t, 4, cfg.Extraction.RequestsPerSecond)
	assert.Equal(t, int64(500), cfg.Sync.DownloadLimit)
	assert.Equal(t, 300*time.Second, cfg.ExtractionTimeout())

	require.Len(t, cfg.Buckets, 1)
	assert.Equal(t, "acme", cfg.Buckets[0].Tenant)

	assert.Equal(t, filepath.Join("/data/checkpoints", "intelliextract.db"), cfg.Checkpoint.DBPath())
	assert.Equal(t, cfg.Checkpoint.DBPath()+".bak", cfg.Checkpoint.BackupPath())
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[staging]
dir = "/elsewhere"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/elsewhere", cfg.Staging.Dir)
	assert.Equal(t, "./checkpoints", cfg.Checkpoint.Dir)
	assert.Equal(t, "us-east-1", cfg.ObjectStore.Region)
	assert.Equal(t, 5, cfg.Extraction.Concurrency)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
}

func TestLoad_UnknownKeysAreFatal(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[staging]
dir = "/x"
directroy = "/typo"
`)

	_, err := Load(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
	assert.Contains(t, err.Error(), "directroy")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Extraction.Timeout = "50ms"
	cfg.Extraction.Concurrency = 100
	cfg.Extraction.RequestsPerSecond = -1
	cfg.Sync.DownloadLimit = -5
	cfg.Logging.LogLevel = "loud"
	cfg.Logging.LogFormat = "xml"

	err := Validate(cfg)
	require.Error(t, err)

	for _, want := range []string{
		"extraction.timeout",
		"extraction.concurrency",
		"extraction.requests_per_second",
		"sync.download_limit",
		"logging.log_level",
		"logging.log_format",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Buckets(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Buckets = []BucketConfig{
		{Bucket: "b", Tenant: "acme", Purchaser: "bob"},
		{Bucket: "b", Tenant: "acme", Purchaser: "bob"}, // duplicate
		{Prefix: "x"},                                   // missing everything
	}

	err := Validate(cfg)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "duplicate tenant/purchaser pair acme/bob")
	assert.Contains(t, err.Error(), "buckets[2]: bucket is required")
	assert.Contains(t, err.Error(), "buckets[2]: tenant is required")
	assert.Contains(t, err.Error(), "buckets[2]: purchaser is required")
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(DefaultConfig()))
}

func TestExtractionTimeout(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 120*time.Second, cfg.ExtractionTimeout())

	cfg.Extraction.Timeout = ""
	assert.Zero(t, cfg.ExtractionTimeout())

	cfg.Extraction.Timeout = "garbage"
	assert.Zero(t, cfg.ExtractionTimeout())
}

func TestBucketsFromPairs(t *testing.T) {
	t.Parallel()

	buckets := bucketsFromPairs("invoices", map[string][]string{
		"zeta": {"carol"},
		"acme": {"bob", "alice"},
	})

	// Sorted by tenant, then purchaser.
	require.Len(t, buckets, 3)
	assert.Equal(t, BucketConfig{Bucket: "invoices", Prefix: "acme/alice", Tenant: "acme", Purchaser: "alice"}, buckets[0])
	assert.Equal(t, "acme/bob", buckets[1].Prefix)
	assert.Equal(t, "zeta/carol", buckets[2].Prefix)
}

func TestTenantPurchasersFromEnv(t *testing.T) {
	t.Setenv(EnvTenantPurchasers, `{"acme": ["bob"]}`)

	pairs, err := TenantPurchasersFromEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"acme": {"bob"}}, pairs)

	t.Setenv(EnvTenantPurchasers, "not json")

	_, err = TenantPurchasersFromEnv()
	require.Error(t, err)

	t.Setenv(EnvTenantPurchasers, "")

	pairs, err = TenantPurchasersFromEnv()
	require.NoError(t, err)
	assert.Nil(t, pairs)
}

func TestResolve(t *testing.T) {
	path := writeConfig(t, `
[objectstore]
default_bucket = "invoices"

[[buckets]]
bucket = "ignored"
prefix = "old/pair"
tenant = "old"
purchaser = "pair"
`)

	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvTenantPurchasers, `{"acme": ["bob", "alice"]}`)

	cfg, err := Resolve("")
	require.NoError(t, err)

	// The env pairs replace the file's bucket list wholesale.
	require.Len(t, cfg.Buckets, 2)
	assert.Equal(t, "invoices", cfg.Buckets[0].Bucket)
	assert.Equal(t, "acme/alice", cfg.Buckets[0].Prefix)

	// An explicit CLI path wins over CONFIG_PATH.
	other := writeConfig(t, `
[staging]
dir = "/cli-wins"
`)
	t.Setenv(EnvTenantPurchasers, "")

	cfg, err = Resolve(other)
	require.NoError(t, err)
	assert.Equal(t, "/cli-wins", cfg.Staging.Dir)
}

func TestResolve_NoPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvTenantPurchasers, "")

	cfg, err := Resolve("")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}
