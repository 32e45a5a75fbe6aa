// Config loading for the tenant registry. Static tenant config is a YAML
// mapping tenant_code -> tenant settings, loaded by unmarshalling directly
// into a typed struct via gopkg.in/yaml.v3, with no further indirection.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ResourceConfig names one storage backend a tenant can address by key.
type ResourceConfig struct {
	Kind    string            `yaml:"kind"` // backend plugin key, e.g. "localfs"
	Options map[string]string `yaml:"options"`

	// HealthCheck optionally probes the infrastructure a localfs directory
	// sits on (an NFS export, a replication target) independent of the
	// backend's own Kind, so an operator can wire a reachability check
	// without inventing a new backend plugin.
	HealthCheck *HealthCheckConfig `yaml:"health_check"`
}

// HealthCheckConfig names one dependency probe for a storage resource.
type HealthCheckConfig struct {
	Type            string `yaml:"type"` // "http" or "tcp"
	Target          string `yaml:"target"` // URL for http, host:port for tcp
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	Retries         int    `yaml:"retries"`
}

// StaticTenantConfig is one tenant's entry in the static config file.
// Static config always overrides a same-named dynamic entry (§4.5).
type StaticTenantConfig struct {
	DisplayName   string                    `yaml:"display_name"`
	Properties    map[string]string         `yaml:"properties"`
	DefaultBucket string                    `yaml:"default_bucket"`
	DefaultFormat string                    `yaml:"default_format"`
	Resources     map[string]ResourceConfig `yaml:"resources"`
}

// FileConfig is the root of the static config file.
type FileConfig struct {
	Tenants map[string]StaticTenantConfig `yaml:"tenants"`
}

func LoadFileConfig(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant config %s: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse tenant config %s: %w", path, err)
	}
	return &cfg, nil
}
