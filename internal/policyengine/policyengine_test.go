package policyengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardctl/guardctl/internal/models"
)

type staticSource struct {
	policies []models.Policy
}

func (s staticSource) LoadEnabledPolicies(context.Context) ([]models.Policy, error) {
	return s.policies, nil
}

func requireMFAPolicy(id string, priority int, group string) models.Policy {
	return models.Policy{
		ID: id, Name: "Require MFA for " + group, Enabled: true, Priority: priority,
		RuleGroups: []models.RuleGroup{{
			ID: id + "-g1", Order: 0,
			Rules: []models.Rule{{RuleType: models.RuleSourceGroup, Operator: models.OpEquals, Value: group}},
		}},
		Actions: []models.Action{{ActionType: models.ActionRequireMFA, RequiredMethod: "TOTP"}},
	}
}

func TestLowestPriorityWins(t *testing.T) {
	low := requireMFAPolicy("p-low", 1, "domain-admins")
	high := requireMFAPolicy("p-high", 100, "domain-admins")
	high.Actions = []models.Action{{ActionType: models.ActionDeny}}

	eng := New(staticSource{policies: []models.Policy{high, low}})
	res, err := eng.Evaluate(context.Background(), models.AuthenticationContext{
		UserGroups: []string{"domain-admins"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRequireMFA, res.Decision)
	assert.Equal(t, "p-low", res.MatchedPolicyID)
}

func TestNoMatchDefaultsToAllow(t *testing.T) {
	eng := New(staticSource{policies: []models.Policy{requireMFAPolicy("p1", 1, "domain-admins")}})
	res, err := eng.Evaluate(context.Background(), models.AuthenticationContext{UserGroups: []string{"everyone"}})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Equal(t, "no matching policy", res.Reason)
}

func TestAlertOnlyTranslatesToAllow(t *testing.T) {
	p := requireMFAPolicy("p1", 1, "finance")
	p.Actions = []models.Action{{ActionType: models.ActionAlertOnly}}
	eng := New(staticSource{policies: []models.Policy{p}})

	res, err := eng.Evaluate(context.Background(), models.AuthenticationContext{UserGroups: []string{"finance"}})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)
}

func TestSourceIPCIDRMatch(t *testing.T) {
	p := models.Policy{
		ID: "p-ip", Enabled: true, Priority: 1,
		RuleGroups: []models.RuleGroup{{Rules: []models.Rule{
			{RuleType: models.RuleSourceIP, Operator: models.OpEquals, Value: "10.0.0.0/24"},
		}}},
		Actions: []models.Action{{ActionType: models.ActionDeny}},
	}
	eng := New(staticSource{policies: []models.Policy{p}})

	res, err := eng.Evaluate(context.Background(), models.AuthenticationContext{SourceIP: "10.0.0.55"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, res.Decision)

	res, err = eng.Evaluate(context.Background(), models.AuthenticationContext{SourceIP: "10.0.1.55"})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	p := models.Policy{
		ID: "p-tw", Enabled: true, Priority: 1,
		RuleGroups: []models.RuleGroup{{Rules: []models.Rule{
			{RuleType: models.RuleTimeWindow, Operator: models.OpEquals, Value: "22:00-06:00"},
		}}},
		Actions: []models.Action{{ActionType: models.ActionRequireMFA}},
	}
	eng := New(staticSource{policies: []models.Policy{p}})

	night := time.Date(2026, 1, 1, 23, 30, 0, 0, time.Local)
	res, err := eng.Evaluate(context.Background(), models.AuthenticationContext{Timestamp: night})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRequireMFA, res.Decision)

	day := time.Date(2026, 1, 1, 12, 0, 0, 0, time.Local)
	res, err = eng.Evaluate(context.Background(), models.AuthenticationContext{Timestamp: day})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)
}

func TestRiskScoreRuleAlwaysFalse(t *testing.T) {
	p := models.Policy{
		ID: "p-risk", Enabled: true, Priority: 1,
		RuleGroups: []models.RuleGroup{{Rules: []models.Rule{
			{RuleType: models.RuleRiskScore, Operator: models.OpEquals, Value: "high"},
		}}},
		Actions: []models.Action{{ActionType: models.ActionDeny}},
	}
	eng := New(staticSource{policies: []models.Policy{p}})
	res, err := eng.Evaluate(context.Background(), models.AuthenticationContext{})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)
}
