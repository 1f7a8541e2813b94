package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal: silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain: defaults -> config file ->
// environment. cliPath wins over CONFIG_PATH; S3_TENANT_PURCHASERS, when
// set, regenerates the bucket list on the default bucket.
func Resolve(cliPath string) (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if cliPath != "" {
		path = cliPath
	}

	var (
		cfg *Config
		err error
	)

	if path == "" {
		cfg = DefaultConfig()
	} else {
		cfg, err = LoadOrDefault(path)
		if err != nil {
			return nil, err
		}
	}

	pairs, err := TenantPurchasersFromEnv()
	if err != nil {
		return nil, err
	}

	if len(pairs) > 0 {
		cfg.Buckets = bucketsFromPairs(cfg.ObjectStore.DefaultBucket, pairs)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
