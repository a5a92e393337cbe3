// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus instrumentation for the center and
// agent binaries: policy evaluation outcomes, challenge issuance/
// verification, session lifecycle, gossip replication, certificate
// issuance, and leader-election transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PolicyEvaluations counts Policy Engine evaluations by decision.
	PolicyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_evaluations_total",
			Help: "Total number of policy evaluations by resulting decision",
		},
		[]string{"decision"},
	)

	PolicyEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policy_evaluation_duration_seconds",
			Help:    "Duration of a single policy-engine evaluation",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ChallengesIssued / ChallengesVerified count Challenge Orchestrator
	// activity by MFA method and outcome.
	ChallengesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenges_issued_total",
			Help: "Total number of MFA challenges issued, by method",
		},
		[]string{"method"},
	)

	ChallengesVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenges_verified_total",
			Help: "Total number of MFA challenge verification attempts, by method and outcome",
		},
		[]string{"method", "outcome"}, // outcome: approved, denied, expired, failed
	)

	ChallengeLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_lockouts_total",
			Help: "Total number of challenges that exhausted their attempt budget",
		},
	)

	// SessionsCreated / SessionsValidated / SessionsRevoked track the
	// Session Manager.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total number of bearer sessions created",
		},
	)

	SessionValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_validations_total",
			Help: "Total number of session token validations, by result",
		},
		[]string{"result"}, // hit, miss
	)

	SessionsRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_revoked_total",
			Help: "Total number of sessions explicitly revoked",
		},
	)

	SessionsExpiredSweep = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_sweep_total",
			Help: "Total number of sessions removed by the expiry sweep",
		},
	)

	// AgentDecisions tracks the Agent Decision Service's three-step
	// pipeline outcome.
	AgentDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_decisions_total",
			Help: "Total number of agent logon decisions, by source and decision",
		},
		[]string{"source", "decision"}, // source: cached_session, central, degraded
	)

	AgentCentralCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_central_call_duration_seconds",
			Help:    "Duration of the agent's EvaluateAuthentication RPC to the center",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentDegradedDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_degraded_decisions_total",
			Help: "Total number of decisions made in degraded (central-unreachable) mode, by failover mode",
		},
		[]string{"failover_mode"},
	)

	// GossipEventsSent / GossipEventsReceived / GossipRTT instrument DC
	// peer replication.
	GossipEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_events_sent_total",
			Help: "Total number of session events broadcast to peers, by outcome",
		},
		[]string{"outcome"}, // ack, error
	)

	GossipEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gossip_events_received_total",
			Help: "Total number of session events received from peers, by outcome",
		},
		[]string{"outcome"}, // applied, duplicate, stale
	)

	GossipRTT = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gossip_rtt_seconds",
			Help:    "Round-trip time of a gossip send to a peer's acknowledgement",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CACertificatesIssued / CARevocations instrument the Certificate
	// Authority.
	CACertificatesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ca_certificates_issued_total",
			Help: "Total number of agent certificates signed",
		},
	)

	CARevocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ca_revocations_total",
			Help: "Total number of certificates revoked",
		},
	)

	// LeaderTransitions / IsLeader instrument the Leader Lease.
	LeaderTransitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leader_transitions_total",
			Help: "Total number of times this instance acquired leadership",
		},
	)

	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "1 if this instance currently holds the leader lease, else 0",
		},
	)

	// PolicyStreamSubscribers / PolicyStreamDrops instrument the Policy
	// Stream broadcaster.
	PolicyStreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policy_stream_subscribers",
			Help: "Current number of subscribed agent channels",
		},
	)

	PolicyStreamDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_stream_drops_total",
			Help: "Total number of notifications dropped due to a full subscriber channel",
		},
	)

	// SnapshotsTaken / SnapshotRestores instrument the Snapshotter.
	SnapshotsTaken = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshots_taken_total",
			Help: "Total number of state-store snapshots taken, by result",
		},
		[]string{"result"},
	)

	SnapshotRestores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_restores_total",
			Help: "Total number of restore confirmations, by result",
		},
		[]string{"result"},
	)

	// StoreQueryDuration / StoreQueryErrors instrument the central store.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_duration_seconds",
			Help:    "Duration of central state-store queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_query_errors_total",
			Help: "Total number of central state-store query errors",
		},
		[]string{"operation"},
	)

	// APIRequestDuration / APIRequestsTotal instrument the Admin REST
	// surface and the agent-facing RPC mux.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

// RecordPolicyEvaluation records one Policy Engine evaluation.
func RecordPolicyEvaluation(decision string, duration time.Duration) {
	PolicyEvaluations.WithLabelValues(decision).Inc()
	PolicyEvaluationDuration.Observe(duration.Seconds())
}

// RecordChallengeIssued records one Challenge Orchestrator issue() call.
func RecordChallengeIssued(method string) {
	ChallengesIssued.WithLabelValues(method).Inc()
}

// RecordChallengeVerified records one Challenge Orchestrator verify() call
// and its terminal or non-terminal outcome.
func RecordChallengeVerified(method, outcome string, lockout bool) {
	ChallengesVerified.WithLabelValues(method, outcome).Inc()
	if lockout {
		ChallengeLockouts.Inc()
	}
}

// RecordSessionCreated records one Session Manager create() call.
func RecordSessionCreated() {
	SessionsCreated.Inc()
}

// RecordSessionValidation records one Session Manager validate() call.
func RecordSessionValidation(hit bool) {
	if hit {
		SessionValidations.WithLabelValues("hit").Inc()
		return
	}
	SessionValidations.WithLabelValues("miss").Inc()
}

// RecordSessionRevoked records one Session Manager revoke() call.
func RecordSessionRevoked() {
	SessionsRevoked.Inc()
}

// RecordSessionsSwept records the number of rows removed by one
// cleanup_expired() pass.
func RecordSessionsSwept(n int) {
	SessionsExpiredSweep.Add(float64(n))
}

// RecordAgentDecision records one Agent Decision Service outcome.
func RecordAgentDecision(source, decision string) {
	AgentDecisions.WithLabelValues(source, decision).Inc()
}

// RecordAgentCentralCall records the latency of one central RPC call.
func RecordAgentCentralCall(d time.Duration) {
	AgentCentralCallDuration.Observe(d.Seconds())
}

// RecordAgentDegradedDecision records one decision taken under a
// configured failover mode because the central call failed.
func RecordAgentDegradedDecision(failoverMode string) {
	AgentDegradedDecisions.WithLabelValues(failoverMode).Inc()
}

// RecordGossipSent records the outcome of one peer broadcast attempt.
func RecordGossipSent(acked bool, rtt time.Duration) {
	if acked {
		GossipEventsSent.WithLabelValues("ack").Inc()
		GossipRTT.Observe(rtt.Seconds())
		return
	}
	GossipEventsSent.WithLabelValues("error").Inc()
}

// RecordGossipReceived records the disposition of one received event.
func RecordGossipReceived(outcome string) {
	GossipEventsReceived.WithLabelValues(outcome).Inc()
}

// RecordCertificateIssued records one CA.SignCSR call.
func RecordCertificateIssued() {
	CACertificatesIssued.Inc()
}

// RecordCertificateRevoked records one CA.Revoke call.
func RecordCertificateRevoked() {
	CARevocations.Inc()
}

// RecordLeaderAcquired records this instance transitioning to leader and
// sets the leadership gauge.
func RecordLeaderAcquired() {
	LeaderTransitions.Inc()
	IsLeader.Set(1)
}

// RecordLeaderLost clears the leadership gauge.
func RecordLeaderLost() {
	IsLeader.Set(0)
}

// SetPolicyStreamSubscribers reports the current subscriber count.
func SetPolicyStreamSubscribers(n int) {
	PolicyStreamSubscribers.Set(float64(n))
}

// RecordPolicyStreamDrop records one oldest-drop-on-overflow event.
func RecordPolicyStreamDrop() {
	PolicyStreamDrops.Inc()
}

// RecordSnapshotTaken records the result of one snapshot attempt.
func RecordSnapshotTaken(ok bool) {
	if ok {
		SnapshotsTaken.WithLabelValues("success").Inc()
		return
	}
	SnapshotsTaken.WithLabelValues("error").Inc()
}

// RecordSnapshotRestore records the result of one restore confirmation.
func RecordSnapshotRestore(ok bool) {
	if ok {
		SnapshotRestores.WithLabelValues("success").Inc()
		return
	}
	SnapshotRestores.WithLabelValues("error").Inc()
}

// RecordStoreQuery records the latency and error state of one store call.
func RecordStoreQuery(operation string, d time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(route, method, status string, d time.Duration) {
	APIRequestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
	APIRequestsTotal.WithLabelValues(route, method, status).Inc()
}

// TrackActiveRequest increments or decrements the in-flight request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIRequestsInFlight.Inc()
		return
	}
	APIRequestsInFlight.Dec()
}
