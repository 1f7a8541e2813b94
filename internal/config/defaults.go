package config

// Default values, the "layer 0" of the override chain. Chosen so that a
// run with no config file still lands in sensible local directories.
const (
	defaultStagingDir        = "./staging"
	defaultCheckpointDir     = "./checkpoints"
	defaultRegion            = "us-east-1"
	defaultTimeout           = "120s"
	defaultConcurrency       = 5
	defaultRequestsPerSecond = 0
	defaultDownloadLimit     = 0
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Staging:    StagingConfig{Dir: defaultStagingDir},
		Checkpoint: CheckpointConfig{Dir: defaultCheckpointDir},
		ObjectStore: ObjectStoreConfig{
			Region: defaultRegion,
		},
		Extraction: ExtractionConfig{
			Timeout:           defaultTimeout,
			Concurrency:       defaultConcurrency,
			RequestsPerSecond: defaultRequestsPerSecond,
		},
		Sync: SyncConfig{DownloadLimit: defaultDownloadLimit},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
