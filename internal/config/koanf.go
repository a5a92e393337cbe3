// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/guardctl/guardctl/internal/models"
)

// DefaultConfigPaths lists the paths where a config file is searched for,
// in priority order. The first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/guardctl/config.yaml",
	"/etc/guardctl/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:    "/data/guardctl.duckdb",
			Threads: 0,
		},
		MTLS: MTLSConfig{
			CertPath: "/etc/guardctl/tls/agent.pem",
			KeyPath:  "/etc/guardctl/tls/agent-key.pem",
			CAPath:   "/etc/guardctl/tls/ca.pem",
		},
		CA: CAConfig{
			Dir: "/data/ca",
		},
		RPC: RPCConfig{
			BindAddr: "0.0.0.0:9443",
		},
		REST: RESTConfig{
			BindAddr: "0.0.0.0:8443",
		},
		Metrics: MetricsConfig{
			BindAddr: "0.0.0.0:9090",
		},
		Security: SecurityConfig{
			JWTExpiry:       24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
			CasbinModelPath: "internal/authz/model.conf",
		},
		Agent: AgentConfig{
			FailoverMode:       models.FailoverFailClose,
			HeartbeatInterval:  30 * time.Second,
			IPCSocketPath:      "/run/guardctl/agent.sock",
			PolicySyncInterval: 5 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			BackupRoot:     "/data/backups",
			Interval:       6 * time.Hour,
			RetentionCount: 10,
		},
		HA: HAConfig{
			Enabled:  true,
			LeaseTTL: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds a Config by layering defaults, an optional YAML file, and
// environment variables (highest priority), then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("config: process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.trusted_proxies",
	"agent.gossip_peers",
}

// processSliceFields rewrites comma-separated env values for the handful
// of fields that are slices; koanf's env provider otherwise leaves them as
// plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps flat environment variable names (the documented
// CLI-equivalent surface of §6) onto nested koanf paths. Unmapped
// variables are ignored rather than polluting the config tree.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	mappings := map[string]string{
		"store_path":    "store.path",
		"store_threads": "store.threads",

		"mtls_cert_path": "mtls.cert_path",
		"mtls_key_path":  "mtls.key_path",
		"mtls_ca_path":   "mtls.ca_path",

		"ca_dir": "ca.dir",

		"rpc_bind_addr":     "rpc.bind_addr",
		"rest_bind_addr":    "rest.bind_addr",
		"metrics_bind_addr": "metrics.bind_addr",

		"signing_key":        "security.signing_key",
		"encryption_key":     "security.encryption_key",
		"jwt_secret":         "security.jwt_secret",
		"jwt_expiry":         "security.jwt_expiry",
		"admin_username":     "security.admin_username",
		"admin_password":     "security.admin_password",
		"cors_origins":       "security.cors_origins",
		"trusted_proxies":    "security.trusted_proxies",
		"rate_limit_reqs":    "security.rate_limit_reqs",
		"rate_limit_window":  "security.rate_limit_window",
		"casbin_model_path":  "security.casbin_model_path",
		"casbin_policy_path": "security.casbin_policy_path",

		"agent_id":                   "agent.id",
		"agent_center_url":           "agent.center_url",
		"agent_failover_mode":        "agent.failover_mode",
		"agent_heartbeat_interval":   "agent.heartbeat_interval",
		"agent_ipc_socket_path":      "agent.ipc_socket_path",
		"agent_gossip_peers":         "agent.gossip_peers",
		"agent_gossip_bind_addr":     "agent.gossip_bind_addr",
		"agent_policy_sync_interval": "agent.policy_sync_interval",

		"snapshot_backup_root":     "snapshot.backup_root",
		"snapshot_interval":        "snapshot.interval",
		"snapshot_retention_count": "snapshot.retention_count",

		"ha_enabled":   "ha.enabled",
		"ha_lease_ttl": "ha.lease_ttl",
		"ha_holder_id": "ha.holder_id",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
