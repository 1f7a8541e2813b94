package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Environment variable names for overrides.
const (
	EnvConfigPath = "CONFIG_PATH"
	// EnvTenantPurchasers holds a JSON object {tenant: [purchaser, ...]}.
	// When set it replaces the config file's bucket list.
	EnvTenantPurchasers = "S3_TENANT_PURCHASERS"
)

// TenantPurchasersFromEnv parses S3_TENANT_PURCHASERS. Returns nil when
// the variable is unset.
func TenantPurchasersFromEnv() (map[string][]string, error) {
	raw := os.Getenv(EnvTenantPurchasers)
	if raw == "" {
		return nil, nil
	}

	var pairs map[string][]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvTenantPurchasers, err)
	}

	return pairs, nil
}

// bucketsFromPairs expands a tenant->purchasers map into bucket
// descriptors on the default bucket, one per pair, with the conventional
// "tenant/purchaser/" prefix. Output is sorted for deterministic runs.
func bucketsFromPairs(defaultBucket string, pairs map[string][]string) []BucketConfig {
	tenants := make([]string, 0, len(pairs))
	for t := range pairs {
		tenants = append(tenants, t)
	}

	sort.Strings(tenants)

	var buckets []BucketConfig

	for _, tenant := range tenants {
		purchasers := append([]string(nil), pairs[tenant]...)
		sort.Strings(purchasers)

		for _, purchaser := range purchasers {
			buckets = append(buckets, BucketConfig{
				Bucket:    defaultBucket,
				Prefix:    tenant + "/" + purchaser,
				Tenant:    tenant,
				Purchaser: purchaser,
			})
		}
	}

	return buckets
}
