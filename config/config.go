// Package config provides a YAML file loader (gopkg.in/yaml.v3) for Client
// configuration, for hosts that prefer declarative config over building a
// Client programmatically. LoadFile checks required fields through
// File.Validate, which reports a missing field as a plain error, not an
// obkv.ClientUsageError; the package has no programmatic builder.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	obkv "github.com/oceanbase/obkv-table-client-go"
	"github.com/oceanbase/obkv-table-client-go/partition"
	"github.com/oceanbase/obkv-table-client-go/transport"
)

// File is the on-disk YAML shape a Client can be built from.
type File struct {
	BootstrapAddresses []string `yaml:"bootstrap_addresses"`
	Tenant             string   `yaml:"tenant"`
	Database           string   `yaml:"database"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	TenantID           uint32   `yaml:"tenant_id"`

	PoolSizePerEndpoint int           `yaml:"pool_size_per_endpoint"`
	OperationTimeout    time.Duration `yaml:"operation_timeout"`
	RouteCacheTTL       time.Duration `yaml:"route_cache_ttl"`
	RuntimeRetryTimes   int           `yaml:"runtime_retry_times"`

	RetryStormThreshold int           `yaml:"retry_storm_threshold"`
	RetryStormWindow    time.Duration `yaml:"retry_storm_window"`
	RetryStormCooldown  time.Duration `yaml:"retry_storm_cooldown"`

	// PartitionKeyPrefixLen configures partition.PrefixStrategy(n) as the
	// default strategy when the file is loaded without a programmatic
	// PartitionKeyStrategy override.
	PartitionKeyPrefixLen int `yaml:"partition_key_prefix_len"`
}

// LoadFile reads and parses a YAML config file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the required fields are present.
func (f *File) Validate() error {
	if len(f.BootstrapAddresses) == 0 {
		return fmt.Errorf("config: bootstrap_addresses is required")
	}
	if f.Tenant == "" {
		return fmt.Errorf("config: tenant is required")
	}
	if f.User == "" {
		return fmt.Errorf("config: user is required")
	}
	if f.PartitionKeyPrefixLen < 0 {
		return fmt.Errorf("config: partition_key_prefix_len must not be negative")
	}
	return nil
}

// ClientConfig converts the loaded file into an obkv.ClientConfig. strategy
// overrides the file's PartitionKeyPrefixLen-derived default when non-nil
// — callers with a schema.CatalogStrategy or custom rule pass it here.
func (f *File) ClientConfig(strategy obkv.PartitionKeyStrategy) obkv.ClientConfig {
	if strategy == nil {
		n := f.PartitionKeyPrefixLen
		if n <= 0 {
			n = 1
		}
		strategy = partition.PrefixStrategy(n)
	}
	return obkv.ClientConfig{
		BootstrapAddresses: f.BootstrapAddresses,
		Credentials: transport.Credentials{
			Tenant:   f.Tenant,
			Database: f.Database,
			User:     f.User,
			Password: f.Password,
		},
		TenantID:            f.TenantID,
		PartitionStrategy:   strategy,
		PoolSizePerEndpoint: f.PoolSizePerEndpoint,
		OperationTimeout:    f.OperationTimeout,
		RouteCacheTTL:       f.RouteCacheTTL,
		RuntimeRetryTimes:   f.RuntimeRetryTimes,
		RetryStormThreshold: f.RetryStormThreshold,
		RetryStormWindow:    f.RetryStormWindow,
		RetryStormCooldown:  f.RetryStormCooldown,
	}
}
