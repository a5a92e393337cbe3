// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides layered configuration loading for the center and
agent binaries.

# Configuration Sources

Configuration is loaded in three layers, each overriding the last:

 1. Defaults: built-in sensible defaults for all optional settings.
 2. Config File: an optional YAML file ($CONFIG_PATH if set and present,
    else config.yaml or config.yml in the working directory, else
    /etc/guardctl/config.yaml or /etc/guardctl/config.yml).
 3. Environment Variables: override any setting.

# Configuration Structure

  - Store: state-store connection (center: DuckDB file path; agent: local
    BadgerDB cache directory).
  - MTLS: certificate/key/CA paths for the agent<->center RPC transport.
  - CA: root certificate/key and CRL paths for certificate issuance.
  - RPC / REST / Metrics: bind addresses for the center's three listeners.
  - Security: session signing key, enrollment-secret encryption key, admin
    basic-auth credentials, JWT secret, Casbin RBAC paths.
  - Agent: failover mode, heartbeat interval, gossip peer list, IPC socket
    path, polling intervals — consumed only by the agent binary.
  - Snapshot: backup directory, interval, and retention count.
  - Logging: level, format, caller annotation.

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal().Err(err).Msg("failed to load config")
	}

# Validation

Load() calls Validate(), which checks required fields (store path, signing
and encryption keys), the agent failover mode, that the heartbeat interval
and snapshot retention count are not negative, and the log level and
format, returning a descriptive error naming the offending environment
variable. Bind addresses, URLs and other durations are not checked.

# Thread Safety

The Config struct is immutable after Load() returns.
*/
package config
