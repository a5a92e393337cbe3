// SPDX-License-Identifier: AGPL-3.0-or-later

// Package policyengine implements prioritized rule evaluation, producing a
// decision for an AuthenticationContext. The engine is stateless across
// calls, and its matching semantics are purpose-built for a rule/priority/
// CIDR/time-window model rather than a generic RBAC/ABAC enforcer's model.
package policyengine

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guardctl/guardctl/internal/models"
)

// PolicySource loads the enabled policy set under snapshot isolation.
type PolicySource interface {
	LoadEnabledPolicies(ctx context.Context) ([]models.Policy, error)
}

// Engine evaluates an AuthenticationContext against the current policy set.
type Engine struct {
	source PolicySource
}

// New builds an Engine.
func New(source PolicySource) *Engine {
	return &Engine{source: source}
}

// Evaluate loads enabled policies, orders them by priority ascending (ties
// broken by id), and returns the first action of the first matching
// policy. A policy with no matching rule group is skipped entirely; an
// empty policy set (or no match) yields allow with a fixed reason string.
func (e *Engine) Evaluate(ctx context.Context, actx models.AuthenticationContext) (models.PolicyEvaluationResult, error) {
	policies, err := e.source.LoadEnabledPolicies(ctx)
	if err != nil {
		return models.PolicyEvaluationResult{}, fmt.Errorf("policyengine: load policies: %w", err)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority < policies[j].Priority
		}
		return policies[i].ID < policies[j].ID
	})

	for _, p := range policies {
		if !policyMatches(p, actx) {
			continue
		}
		if len(p.Actions) == 0 {
			continue
		}
		action := p.Actions[0]
		return actionResult(p, action), nil
	}

	return models.PolicyEvaluationResult{
		Decision: models.DecisionAllow,
		Reason:   "no matching policy",
	}, nil
}

func actionResult(p models.Policy, a models.Action) models.PolicyEvaluationResult {
	res := models.PolicyEvaluationResult{
		MatchedPolicyID:   p.ID,
		MatchedPolicyName: p.Name,
		FailoverMode:      p.FailoverMode,
	}
	switch a.ActionType {
	case models.ActionRequireMFA:
		res.Decision = models.DecisionRequireMFA
		res.RequiredMethod = a.RequiredMethod
		res.Reason = fmt.Sprintf("matched policy %q requires MFA", p.Name)
	case models.ActionDeny:
		res.Decision = models.DecisionDeny
		res.Reason = fmt.Sprintf("matched policy %q denies", p.Name)
	case models.ActionAllow:
		res.Decision = models.DecisionAllow
		res.Reason = fmt.Sprintf("matched policy %q allows", p.Name)
	case models.ActionAlertOnly:
		res.Decision = models.DecisionAllow
		res.Reason = fmt.Sprintf("matched policy %q (alert only)", p.Name)
	default:
		res.Decision = models.DecisionAllow
		res.Reason = "unrecognized action type, defaulting to allow"
	}
	return res
}

// policyMatches reports whether any RuleGroup of p matches actx (OR across
// groups; AND within a group).
func policyMatches(p models.Policy, actx models.AuthenticationContext) bool {
	groups := append([]models.RuleGroup(nil), p.RuleGroups...)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Order < groups[j].Order })
	for _, g := range groups {
		if groupMatches(g, actx) {
			return true
		}
	}
	return false
}

func groupMatches(g models.RuleGroup, actx models.AuthenticationContext) bool {
	if len(g.Rules) == 0 {
		return false
	}
	for _, r := range g.Rules {
		if !ruleMatches(r, actx) {
			return false
		}
	}
	return true
}

// ruleMatches evaluates a single Rule, applying Negate last.
func ruleMatches(r models.Rule, actx models.AuthenticationContext) bool {
	var matched bool
	switch r.RuleType {
	case models.RuleSourceUser:
		matched = stringOp(r.Operator, actx.UserName, r.Value)
	case models.RuleSourceGroup:
		matched = false
		for _, g := range actx.UserGroups {
			if stringOp(r.Operator, g, r.Value) {
				matched = true
				break
			}
		}
	case models.RuleSourceIP:
		matched = matchIP(r.Operator, actx.SourceIP, r.Value)
	case models.RuleSourceOU:
		matched = stringOp(r.Operator, actx.UserOU, r.Value)
	case models.RuleTargetResource:
		matched = stringOp(r.Operator, actx.TargetResource, r.Value)
	case models.RuleAuthProtocol:
		matched = stringOp(r.Operator, actx.Protocol, r.Value)
	case models.RuleTimeWindow:
		matched = matchTimeWindow(r.Value, actx.Timestamp)
	case models.RuleRiskScore:
		// No scorer exists yet; always false until one is registered.
		matched = false
	default:
		matched = false
	}
	if r.Negate {
		return !matched
	}
	return matched
}

func stringOp(op models.RuleOperator, actual, value string) bool {
	a := strings.ToLower(actual)
	v := strings.ToLower(value)
	switch op {
	case models.OpEquals:
		return a == v
	case models.OpContains:
		return strings.Contains(a, v)
	case models.OpStartsWith:
		return strings.HasPrefix(a, v)
	case models.OpEndsWith:
		return strings.HasSuffix(a, v)
	case models.OpRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// matchIP interprets value as a CIDR if it parses as one, else as a literal
// address compared case-insensitively (IPv6 text forms can vary in case).
func matchIP(op models.RuleOperator, actualIP, value string) bool {
	if actualIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(actualIP)
	if err != nil {
		return false
	}
	if prefix, err := netip.ParsePrefix(value); err == nil {
		return prefix.Contains(addr)
	}
	return stringOp(op, actualIP, value)
}

// matchTimeWindow parses "HH:MM-HH:MM" (local time at the center) and
// reports whether ts falls within it, allowing wrap-around across
// midnight.
func matchTimeWindow(value string, ts time.Time) bool {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return false
	}
	start, err1 := parseHHMM(parts[0])
	end, err2 := parseHHMM(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	local := ts.Local()
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur <= end
	}
	// wrap across midnight
	return cur >= start || cur <= end
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("policyengine: malformed time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
