// Package config loads the reference binary's process-level configuration:
// listen addresses, data directories, and log level. Tenant resource
// configuration has its own loader (pkg/registry.LoadFileConfig); this
// package only covers the settings that exist once per process.
//
// Loading is intentionally plain: read the file, gopkg.in/yaml.v3.Unmarshal
// into a typed struct, no further indirection.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/dataplane/pkg/log"
)

// Config is the root of the process config file.
type Config struct {
	// ListenAddr is the address the data-plane transport listens on.
	ListenAddr string `yaml:"listen_addr"`
	// MetricsAddr serves /metrics and /healthz.
	MetricsAddr string `yaml:"metrics_addr"`
	// CataloguePath is the bbolt file backing the reference catalogue.
	CataloguePath string `yaml:"catalogue_path"`
	// TenantConfigPath points at the registry's static tenant file.
	TenantConfigPath string `yaml:"tenant_config_path"`
	// LogLevel is one of log.DebugLevel/InfoLevel/WarnLevel/ErrorLevel.
	LogLevel log.Level `yaml:"log_level"`
	// TokenTTLSeconds is how long an issued bearer token stays valid.
	TokenTTLSeconds int `yaml:"token_ttl_seconds"`
}

// Default returns the configuration a bare `dataplaned serve` runs with, no
// file supplied.
func Default() Config {
	return Config{
		ListenAddr:       ":7420",
		MetricsAddr:      ":9420",
		CataloguePath:    "dataplane.db",
		TenantConfigPath: "tenants.yaml",
		LogLevel:         log.InfoLevel,
		TokenTTLSeconds:  3600,
	}
}

// Load reads path and overlays it onto Default(); a missing field in the
// file keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
