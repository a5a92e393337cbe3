// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines the entities of the MFA control plane's data model.
//
// All timestamps are UTC instants with millisecond resolution, stored and
// transmitted as time.Time / RFC 3339 strings at the REST edge.
package models

import "time"

// User mirrors a directory principal. It is externally mastered: only the
// (out-of-scope) LDAP importer or enrollment lifecycle mutate it locally.
type User struct {
	ID               string     `json:"id" db:"id"`
	DirectoryObjectID string    `json:"directory_object_id" db:"directory_object_id"`
	SAM              string     `json:"sam" db:"sam"`
	UPN              string     `json:"upn" db:"upn"`
	Display          string     `json:"display" db:"display"`
	Email            string     `json:"email,omitempty" db:"email"`
	Phone            string     `json:"phone,omitempty" db:"phone"`
	DN               string     `json:"dn" db:"dn"`
	Enabled          bool       `json:"enabled" db:"enabled"`
	MFAEnabled       bool       `json:"mfa_enabled" db:"mfa_enabled"`
	LastSync         time.Time  `json:"last_sync" db:"last_sync"`
	LastAuth         *time.Time `json:"last_auth,omitempty" db:"last_auth"`
}

// GroupMembership is a point-in-time snapshot of a directory group membership.
type GroupMembership struct {
	UserID    string    `json:"user_id" db:"user_id"`
	GroupSID  string    `json:"group_sid" db:"group_sid"`
	GroupName string    `json:"group_name" db:"group_name"`
	GroupDN   string    `json:"group_dn" db:"group_dn"`
	SyncedAt  time.Time `json:"synced_at" db:"synced_at"`
}

// EnrollmentStatus is the lifecycle state of an Enrollment.
type EnrollmentStatus string

const (
	EnrollmentPending  EnrollmentStatus = "pending"
	EnrollmentActive   EnrollmentStatus = "active"
	EnrollmentDisabled EnrollmentStatus = "disabled"
	EnrollmentRevoked  EnrollmentStatus = "revoked"
)

// Enrollment binds a user to one MFA method. At most one active enrollment
// may exist per (UserID, Method) pair; callers must enforce this at the
// store layer with a unique partial index or equivalent check.
type Enrollment struct {
	ID                string           `json:"id" db:"id"`
	UserID            string           `json:"user_id" db:"user_id"`
	Method            string           `json:"method" db:"method"`
	Status            EnrollmentStatus `json:"status" db:"status"`
	EncryptedSecret   []byte           `json:"-" db:"encrypted_secret"`
	SecretNonce       []byte           `json:"-" db:"secret_nonce"`
	DeviceIdentifier  string           `json:"device_identifier,omitempty" db:"device_identifier"`
	FriendlyName      string           `json:"friendly_name,omitempty" db:"friendly_name"`
	Created           time.Time        `json:"created" db:"created"`
	Activated         *time.Time       `json:"activated,omitempty" db:"activated"`
	LastUsed          *time.Time       `json:"last_used,omitempty" db:"last_used"`
}

// FailoverMode is the behavior applied when the central control plane is
// unreachable from an agent.
type FailoverMode string

const (
	FailoverFailOpen   FailoverMode = "fail_open"
	FailoverFailClose  FailoverMode = "fail_close"
	FailoverCachedOnly FailoverMode = "cached_only"
)

// Policy is a prioritized, named set of rule groups and a dispositive action
// list. Lower Priority values are evaluated first.
type Policy struct {
	ID           string       `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Description  string       `json:"description,omitempty" db:"description"`
	Enabled      bool         `json:"enabled" db:"enabled"`
	Priority     int          `json:"priority" db:"priority"`
	FailoverMode FailoverMode `json:"failover_mode" db:"failover_mode"`
	RuleGroups   []RuleGroup  `json:"rule_groups"`
	Actions      []Action     `json:"actions"`
	Updated      time.Time    `json:"updated" db:"updated"`
}

// RuleGroup combines its Rules by AND; a Policy matches if any RuleGroup
// matches (OR across groups).
type RuleGroup struct {
	ID       string `json:"id" db:"id"`
	PolicyID string `json:"policy_id" db:"policy_id"`
	Order    int    `json:"order" db:"order"`
	Rules    []Rule `json:"rules"`
}

// RuleType enumerates the matchable facets of an AuthenticationContext.
type RuleType string

const (
	RuleSourceUser     RuleType = "source_user"
	RuleSourceGroup    RuleType = "source_group"
	RuleSourceIP       RuleType = "source_ip"
	RuleSourceOU       RuleType = "source_ou"
	RuleTargetResource RuleType = "target_resource"
	RuleAuthProtocol   RuleType = "auth_protocol"
	RuleTimeWindow     RuleType = "time_window"
	RuleRiskScore      RuleType = "risk_score"
)

// RuleOperator is how a Rule's Value is compared against the context.
type RuleOperator string

const (
	OpEquals     RuleOperator = "equals"
	OpContains   RuleOperator = "contains"
	OpStartsWith RuleOperator = "starts_with"
	OpEndsWith   RuleOperator = "ends_with"
	OpRegex      RuleOperator = "regex"
)

// Rule is a single predicate within a RuleGroup.
type Rule struct {
	ID        string       `json:"id" db:"id"`
	GroupID   string       `json:"group_id" db:"group_id"`
	RuleType  RuleType     `json:"rule_type" db:"rule_type"`
	Operator  RuleOperator `json:"operator" db:"operator"`
	Value     string       `json:"value" db:"value"`
	Negate    bool         `json:"negate" db:"negate"`
}

// ActionType is the disposition a matching Policy produces.
type ActionType string

const (
	ActionRequireMFA ActionType = "require_mfa"
	ActionDeny       ActionType = "deny"
	ActionAllow      ActionType = "allow"
	ActionAlertOnly  ActionType = "alert_only"
)

// Action is the first-wins disposition attached to a Policy.
type Action struct {
	ID              string     `json:"id" db:"id"`
	PolicyID        string     `json:"policy_id" db:"policy_id"`
	Order           int        `json:"order" db:"order"`
	ActionType      ActionType `json:"action_type" db:"action_type"`
	RequiredMethod  string     `json:"required_method,omitempty" db:"required_method"`
}

// ChallengeStatus is the state-machine position of a Challenge.
type ChallengeStatus string

const (
	ChallengeIssued   ChallengeStatus = "issued"
	ChallengeApproved ChallengeStatus = "approved"
	ChallengeDenied   ChallengeStatus = "denied"
	ChallengeExpired  ChallengeStatus = "expired"
	ChallengeFailed   ChallengeStatus = "failed"
)

// IsTerminal reports whether s admits no further transitions.
func (s ChallengeStatus) IsTerminal() bool {
	switch s {
	case ChallengeApproved, ChallengeDenied, ChallengeExpired, ChallengeFailed:
		return true
	default:
		return false
	}
}

// Challenge is a single bounded verification attempt against an Enrollment.
type Challenge struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	EnrollmentID string          `json:"enrollment_id" db:"enrollment_id"`
	Method       string          `json:"method" db:"method"`
	Status       ChallengeStatus `json:"status" db:"status"`
	SourceIP     string          `json:"source_ip,omitempty" db:"source_ip"`
	Target       string          `json:"target,omitempty" db:"target"`
	Attempts     int             `json:"attempts" db:"attempts"`
	MaxAttempts  int             `json:"max_attempts" db:"max_attempts"`
	Created      time.Time       `json:"created" db:"created"`
	Expires      time.Time       `json:"expires" db:"expires"`
	Responded    *time.Time      `json:"responded,omitempty" db:"responded"`

	// LeaseHolder/LeaseExpiry are persisted with the row but no code sets
	// them; concurrent verify() calls on one row are serialized by
	// ChallengeStore.Update's compare-and-swap on attempts and status.
	LeaseHolder string    `json:"-" db:"lease_holder"`
	LeaseExpiry time.Time `json:"-" db:"lease_expiry"`
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionRevoked SessionStatus = "revoked"
)

// Session is a bearer artifact asserting that MFA was completed. The token
// itself is never stored, only TokenHash.
type Session struct {
	ID              string        `json:"id" db:"id"`
	UserID          string        `json:"user_id" db:"user_id"`
	TokenHash       [32]byte      `json:"-" db:"token_hash"`
	SourceIP        string        `json:"source_ip" db:"source_ip"`
	TargetResource  string        `json:"target_resource,omitempty" db:"target_resource"`
	VerifiedMethod  string        `json:"verified_method" db:"verified_method"`
	Status          SessionStatus `json:"status" db:"status"`
	Created         time.Time     `json:"created" db:"created"`
	Expires         time.Time     `json:"expires" db:"expires"`
	DCHint          string        `json:"dc_hint,omitempty" db:"dc_hint"`
}

// AgentType distinguishes a domain-controller agent from an endpoint agent.
type AgentType string

const (
	AgentTypeDC       AgentType = "dc"
	AgentTypeEndpoint AgentType = "endpoint"
)

// AgentStatus is the last-observed health of an AgentRegistration.
type AgentStatus string

const (
	AgentOnline   AgentStatus = "online"
	AgentOffline  AgentStatus = "offline"
	AgentDegraded AgentStatus = "degraded"
)

// AgentRegistration records a known agent and its mTLS certificate binding.
type AgentRegistration struct {
	ID             string      `json:"id" db:"id"`
	Type           AgentType   `json:"type" db:"type"`
	Hostname       string      `json:"hostname" db:"hostname"`
	IP             string      `json:"ip,omitempty" db:"ip"`
	Status         AgentStatus `json:"status" db:"status"`
	CertThumbprint string      `json:"cert_thumbprint,omitempty" db:"cert_thumbprint"`
	Version        string      `json:"version,omitempty" db:"version"`
	Registered     time.Time   `json:"registered" db:"registered"`
	LastHeartbeat  *time.Time  `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
}

// LeaderLease is the zero-or-one "primary" row arbitrating singleton
// background work across center instances.
type LeaderLease struct {
	Key      string    `json:"key" db:"key"`
	HolderID string    `json:"holder_id" db:"holder_id"`
	Acquired time.Time `json:"acquired" db:"acquired"`
	Expires  time.Time `json:"expires" db:"expires"`
	Renewed  time.Time `json:"renewed" db:"renewed"`
}

// PrimaryLeaseKey is the fixed row key used by the Leader Lease component.
const PrimaryLeaseKey = "primary"

// AuditLogEntry is one append-only audit row.
type AuditLogEntry struct {
	Seq       int64     `json:"seq" db:"seq"`
	TS        time.Time `json:"ts" db:"ts"`
	EventType string    `json:"event_type" db:"event_type"`
	UserID    string    `json:"user_id,omitempty" db:"user_id"`
	UserName  string    `json:"user_name,omitempty" db:"user_name"`
	SourceIP  string    `json:"source_ip,omitempty" db:"source_ip"`
	Target    string    `json:"target,omitempty" db:"target"`
	Success   bool      `json:"success" db:"success"`
	Details   string    `json:"details,omitempty" db:"details"`
	AgentID   string    `json:"agent_id,omitempty" db:"agent_id"`
}

// AuthenticationContext is the input to the Policy Engine.
type AuthenticationContext struct {
	UserName       string    `json:"user_name"`
	UserGroups     []string  `json:"user_groups"`
	SourceIP       string    `json:"source_ip,omitempty"`
	UserOU         string    `json:"user_ou,omitempty"`
	TargetResource string    `json:"target_resource,omitempty"`
	Protocol       string    `json:"protocol"`
	Timestamp      time.Time `json:"timestamp"`
}

// Decision is the outcome vocabulary shared by the Policy Engine and the
// Agent Decision Service.
type Decision string

const (
	DecisionAllow      Decision = "allow"
	DecisionDeny       Decision = "deny"
	DecisionRequireMFA Decision = "require_mfa"
	DecisionPending    Decision = "pending"
)

// PolicyEvaluationResult is the output of the Policy Engine.
type PolicyEvaluationResult struct {
	Decision          Decision     `json:"decision"`
	MatchedPolicyID   string       `json:"matched_policy_id,omitempty"`
	MatchedPolicyName string       `json:"matched_policy_name,omitempty"`
	RequiredMethod    string       `json:"required_method,omitempty"`
	FailoverMode      FailoverMode `json:"failover_mode,omitempty"`
	Reason            string       `json:"reason"`
}

// PolicyChangeNotification is one Policy Stream event.
type PolicyChangeNotification struct {
	PolicyID   string    `json:"policy_id"`
	PolicyJSON string    `json:"policy_json"`
	Deleted    bool      `json:"deleted"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionEvent is a gossiped session-creation or revocation record.
type SessionEvent struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	SourceIP       string    `json:"source_ip"`
	VerifiedMethod string    `json:"verified_method"`
	Expires        time.Time `json:"expires"`
	Revoked        bool      `json:"revoked"`
	OriginID       string    `json:"origin_id"`
	Timestamp      time.Time `json:"timestamp"`
}
