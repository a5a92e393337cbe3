// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics provides Prometheus metrics collection and export for the
center and agent binaries.

# Overview

The package defines collectors and recording functions for:
  - Policy Engine evaluations (decision outcome, latency)
  - Challenge Orchestrator issuance and verification (per method, outcome)
  - Session Manager lifecycle (create, validate, revoke, expiry sweep)
  - Agent Decision Service outcomes (cached/central/degraded, latency)
  - Gossip Peer replication (sent/received, round-trip time)
  - Certificate Authority issuance and revocation
  - Leader Lease transitions
  - Policy Stream subscriber count and backpressure drops
  - State-Store Snapshotter outcomes
  - Central store query latency and errors
  - HTTP request latency and counts

Code in this module calls only two groups of them: the HTTP request
metrics, through middleware.PrometheusMetrics on the Admin REST router,
and the leader lease transitions, from cmd/center. The other collectors
are registered and exported, but nothing updates them.

# Metrics Endpoint

Metrics are exposed at /metrics in Prometheus text format, bound to the
address configured under Metrics.BindAddr:

	curl http://localhost:9090/metrics

# Usage

	http.Handle("/metrics", promhttp.Handler())
	...
	start := time.Now()
	res, err := engine.Evaluate(ctx, authCtx)
	if err == nil {
	    metrics.RecordPolicyEvaluation(string(res.Decision), time.Since(start))
	}

# Cardinality

Labels are restricted to small enumerations (method IDs, decision values,
outcome strings, operation names) to keep series counts bounded; no
user-specific or timestamp-derived label values are ever recorded.

# Thread Safety

All recording functions are safe for concurrent use; the underlying
Prometheus client handles synchronization.
*/
package metrics
