// Package config implements TOML configuration loading and validation for
// intelliextract. Values resolve through a three-layer override chain
// (defaults -> config file -> environment); the S3_TENANT_PURCHASERS
// environment variable can regenerate the bucket list wholesale.
package config

import "path/filepath"

// dbFileName is the store's on-disk name under the checkpoint directory.
const dbFileName = "intelliextract.db"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Staging     StagingConfig     `toml:"staging"`
	Checkpoint  CheckpointConfig  `toml:"checkpoint"`
	ObjectStore ObjectStoreConfig `toml:"objectstore"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Sync        SyncConfig        `toml:"sync"`
	Logging     LoggingConfig     `toml:"logging"`
	Buckets     []BucketConfig    `toml:"buckets"`
}

// StagingConfig locates the local mirror of the remote objects.
type StagingConfig struct {
	Dir string `toml:"dir"`
}

// CheckpointConfig locates the durable record store.
type CheckpointConfig struct {
	Dir string `toml:"dir"`
}

// DBPath is the full path of the store's database file.
func (c CheckpointConfig) DBPath() string {
	return filepath.Join(c.Dir, dbFileName)
}

// BackupPath is the disaster-recovery copy written next to the database.
func (c CheckpointConfig) BackupPath() string {
	return c.DBPath() + ".bak"
}

// ObjectStoreConfig describes the S3-shaped remote. Endpoint and
// path-style addressing support non-AWS deployments.
type ObjectStoreConfig struct {
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
	// DefaultBucket is used when the bucket list is generated from
	// S3_TENANT_PURCHASERS instead of the config file.
	DefaultBucket string `toml:"default_bucket"`
}

// ExtractionConfig tunes the extraction API client and engine.
type ExtractionConfig struct {
	BaseURL string `toml:"base_url"`
	// Timeout is the per-request deadline, e.g. "120s".
	Timeout string `toml:"timeout"`
	// Concurrency bounds in-flight extractions. 0 uses the engine default.
	Concurrency int `toml:"concurrency"`
	// RequestsPerSecond caps the API call rate. 0 disables limiting.
	RequestsPerSecond int `toml:"requests_per_second"`
}

// SyncConfig tunes the sync stage.
type SyncConfig struct {
	// DownloadLimit caps new downloads across all buckets in one sync.
	// 0 means unlimited.
	DownloadLimit int64 `toml:"download_limit"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// BucketConfig maps one remote prefix to a tenant/purchaser slice.
type BucketConfig struct {
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Tenant    string `toml:"tenant"`
	Purchaser string `toml:"purchaser"`
}
