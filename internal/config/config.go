// Package config handles loading and parsing of SovGate configuration.
//
// Configuration comes from an optional YAML file with environment-variable
// overrides; the environment always wins so container deployments can run
// without a config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for SovGate.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Admin       AdminConfig       `yaml:"admin"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Backends    BackendsConfig    `yaml:"backends"`
	Replication ReplicationConfig `yaml:"replication"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// BackendTimeout bounds backend I/O per data-plane request, in seconds.
	BackendTimeout int `yaml:"backend_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdminConfig holds admin surface settings.
type AdminConfig struct {
	// APIKey is the operator value clients must present in X-Admin-Key.
	// Empty means the admin surface is unusable (requests fail with 500).
	APIKey string `yaml:"api_key"`
}

// CryptoConfig holds secret obfuscation settings.
type CryptoConfig struct {
	// TenantSecretPassphrase derives the keystream for tenant secrets at
	// rest. Credential operations fail when it is unset.
	TenantSecretPassphrase string `yaml:"tenant_secret_passphrase"`
}

// MetadataConfig holds metadata store settings.
type MetadataConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// BackendsConfig holds the S3 backend registry settings. A single
// operator-owned credential is assumed for every backend.
type BackendsConfig struct {
	// Endpoints maps backend ids to endpoint URLs.
	Endpoints map[string]string `yaml:"endpoints"`
	// DefaultID is the backend used when a request omits backend_id.
	DefaultID string `yaml:"default_id"`
	// Region is the region name presented to every backend.
	Region string `yaml:"region"`
	// AccessKey and SecretKey are the proxy's own backend credentials.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// ReplicationConfig holds replication worker settings.
type ReplicationConfig struct {
	// Interval is the sleep between empty polls, in seconds.
	Interval int `yaml:"interval"`
	// ClaimLimit is the maximum number of jobs claimed per poll.
	ClaimLimit int `yaml:"claim_limit"`
	// MaxObjectBytes caps the object size the worker will copy through
	// memory; larger objects fail the job with a descriptive error.
	MaxObjectBytes int64 `yaml:"max_object_bytes"`
	// JobTimeout bounds a single job's backend I/O, in seconds.
	JobTimeout int `yaml:"job_timeout"`
	// InProcess runs the worker inside the server process.
	InProcess bool `yaml:"in_process"`
}

// BootstrapConfig holds startup seeding settings.
type BootstrapConfig struct {
	// Disabled skips provider catalogue seeding at startup.
	Disabled bool `yaml:"disabled"`
	// ProviderCatalogPath points at the operator-supplied provider CSV.
	ProviderCatalogPath string `yaml:"provider_catalog_path"`
}

// Load reads an optional YAML configuration file, applies defaults, and then
// applies environment-variable overrides. A missing file is not an error:
// the environment alone is a complete configuration source.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
			// Fall through to env-only configuration.
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 30,
			BackendTimeout:  30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metadata: MetadataConfig{
			Path: "./data/metadata.db",
		},
		Backends: BackendsConfig{
			Endpoints: map[string]string{},
			DefaultID: "primary",
			Region:    "us-east-1",
		},
		Replication: ReplicationConfig{
			Interval:       2,
			ClaimLimit:     10,
			MaxObjectBytes: 256 << 20,
			JobTimeout:     300,
		},
		Bootstrap: BootstrapConfig{
			ProviderCatalogPath: "./data/providers/providers_flat.csv",
		},
	}
}

// applyEnv overlays the recognised environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ADMIN_API_KEY"); v != "" {
		cfg.Admin.APIKey = v
	}
	if v := os.Getenv("TENANT_SECRET_PASSPHRASE"); v != "" {
		cfg.Crypto.TenantSecretPassphrase = v
	}
	if v := os.Getenv("PROXY_METADATA_DB_PATH"); v != "" {
		cfg.Metadata.Path = v
	}
	if v := os.Getenv("S3_BACKEND_DEFAULT_ID"); v != "" {
		cfg.Backends.DefaultID = v
	}
	if v := os.Getenv("S3_BACKEND_ENDPOINTS"); v != "" {
		cfg.Backends.Endpoints = ParseEndpointList(v)
	} else if v := os.Getenv("S3_BACKEND_ENDPOINT"); v != "" {
		defaultID := cfg.Backends.DefaultID
		if defaultID == "" {
			defaultID = "primary"
		}
		cfg.Backends.Endpoints = map[string]string{defaultID: v}
	}
	if v := os.Getenv("S3_BACKEND_REGION"); v != "" {
		cfg.Backends.Region = v
	}
	if v := os.Getenv("S3_BACKEND_ACCESS_KEY"); v != "" {
		cfg.Backends.AccessKey = v
	}
	if v := os.Getenv("S3_BACKEND_SECRET_KEY"); v != "" {
		cfg.Backends.SecretKey = v
	}
	if v := os.Getenv("REPLICATION_WORKER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Replication.Interval = n
		}
	}
	if os.Getenv("PROXY_DB_INIT_DISABLED") == "1" {
		cfg.Bootstrap.Disabled = true
	}
	if v := os.Getenv("PROVIDER_CATALOG_CSV"); v != "" {
		cfg.Bootstrap.ProviderCatalogPath = v
	}
}

// applyDefaults fills in any fields that are still at their zero value.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.BackendTimeout == 0 {
		cfg.Server.BackendTimeout = 30
	}
	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = "./data/metadata.db"
	}
	if cfg.Backends.Endpoints == nil {
		cfg.Backends.Endpoints = map[string]string{}
	}
	if cfg.Backends.DefaultID == "" {
		cfg.Backends.DefaultID = "primary"
	}
	if cfg.Backends.Region == "" {
		cfg.Backends.Region = "us-east-1"
	}
	if cfg.Replication.Interval == 0 {
		cfg.Replication.Interval = 2
	}
	if cfg.Replication.ClaimLimit == 0 {
		cfg.Replication.ClaimLimit = 10
	}
	if cfg.Replication.MaxObjectBytes == 0 {
		cfg.Replication.MaxObjectBytes = 256 << 20
	}
	if cfg.Replication.JobTimeout == 0 {
		cfg.Replication.JobTimeout = 300
	}
}

// ParseEndpointList parses a comma-separated "id=url" list into a map.
// Malformed entries without "=" are skipped.
func ParseEndpointList(value string) map[string]string {
	mapping := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		id, url, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		url = strings.TrimSpace(url)
		if id != "" && url != "" {
			mapping[id] = url
		}
	}
	return mapping
}
