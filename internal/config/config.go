// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"time"

	"github.com/guardctl/guardctl/internal/models"
)

// Config holds every setting either binary (center or agent) may need.
// Each binary reads only the sections relevant to it; unused sections are
// harmless zero values. Loaded via Load(), layering defaults, an optional
// YAML file, and environment variables (env wins).
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	MTLS     MTLSConfig     `koanf:"mtls"`
	CA       CAConfig       `koanf:"ca"`
	RPC      RPCConfig      `koanf:"rpc"`
	REST     RESTConfig     `koanf:"rest"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Security SecurityConfig `koanf:"security"`
	Agent    AgentConfig    `koanf:"agent"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
	HA       HAConfig       `koanf:"ha"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StoreConfig points at the backing state store: the center's DuckDB file,
// or an agent's local BadgerDB cache directory.
type StoreConfig struct {
	Path    string `koanf:"path"`
	Threads int    `koanf:"threads"`
}

// MTLSConfig names the certificate material used to dial (agent) or accept
// (center) the mutual-TLS RPC connection.
type MTLSConfig struct {
	CertPath string `koanf:"cert_path"`
	KeyPath  string `koanf:"key_path"`
	CAPath   string `koanf:"ca_path"`
}

// CAConfig locates the Certificate Authority's root material and
// revocation list on the center.
type CAConfig struct {
	Dir string `koanf:"dir"`
}

// RPCConfig is the center's agent-facing mTLS listener.
type RPCConfig struct {
	BindAddr string `koanf:"bind_addr"`
}

// RESTConfig is the center's admin HTTP listener.
type RESTConfig struct {
	BindAddr string `koanf:"bind_addr"`
}

// MetricsConfig is the Prometheus text-exposition listener carried by both
// binaries.
type MetricsConfig struct {
	BindAddr string `koanf:"bind_addr"`
}

// SecurityConfig groups signing/encryption keys and the admin surface's own
// authentication.
type SecurityConfig struct {
	// SigningKey is the base64-encoded 32-byte HMAC key for session tokens
	// (internal/tokencodec).
	SigningKey string `koanf:"signing_key"`
	// EncryptionKey is the base64-encoded key AEAD-sealing enrollment
	// secrets (internal/secretbox).
	EncryptionKey string `koanf:"encryption_key"`

	JWTSecret      string        `koanf:"jwt_secret"`
	JWTExpiry      time.Duration `koanf:"jwt_expiry"`
	AdminUsername  string        `koanf:"admin_username"`
	AdminPassword  string        `koanf:"admin_password"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	TrustedProxies []string      `koanf:"trusted_proxies"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CasbinModelPath  string `koanf:"casbin_model_path"`
	CasbinPolicyPath string `koanf:"casbin_policy_path"`
}

// AgentConfig holds the fields only the DC agent binary consumes.
type AgentConfig struct {
	ID                 string              `koanf:"id"`
	CenterURL          string              `koanf:"center_url"`
	FailoverMode       models.FailoverMode `koanf:"failover_mode"`
	HeartbeatInterval  time.Duration       `koanf:"heartbeat_interval"`
	IPCSocketPath      string              `koanf:"ipc_socket_path"`
	IPCAllowedUIDs     []uint32            `koanf:"ipc_allowed_uids"`
	GossipPeers        []string            `koanf:"gossip_peers"`
	GossipBindAddr     string              `koanf:"gossip_bind_addr"`
	PolicySyncInterval time.Duration       `koanf:"policy_sync_interval"`
}

// SnapshotConfig drives the State-Store Snapshotter (center only).
type SnapshotConfig struct {
	BackupRoot     string        `koanf:"backup_root"`
	Interval       time.Duration `koanf:"interval"`
	RetentionCount int           `koanf:"retention_count"`
}

// HAConfig controls leader-election timing (center only).
type HAConfig struct {
	Enabled  bool          `koanf:"enabled"`
	LeaseTTL time.Duration `koanf:"lease_ttl"`
	HolderID string        `koanf:"holder_id"`
}

// LoggingConfig configures the zerolog-based logger (internal/logging).
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks required fields and value ranges, returning an error
// naming the offending environment variable / flag.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.Security.SigningKey == "" {
		return fmt.Errorf("SIGNING_KEY is required")
	}
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if err := c.validateAgent(); err != nil {
		return err
	}
	if err := c.validateSnapshot(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAgent() error {
	switch c.Agent.FailoverMode {
	case "", models.FailoverFailOpen, models.FailoverFailClose, models.FailoverCachedOnly:
	default:
		return fmt.Errorf("AGENT_FAILOVER_MODE %q is not one of fail_open, fail_close, cached_only", c.Agent.FailoverMode)
	}
	if c.Agent.HeartbeatInterval < 0 {
		return fmt.Errorf("AGENT_HEARTBEAT_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) validateSnapshot() error {
	if c.Snapshot.RetentionCount < 0 {
		return fmt.Errorf("SNAPSHOT_RETENTION_COUNT must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a recognized zerolog level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
