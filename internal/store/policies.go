// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/guardctl/guardctl/internal/models"
)

// LoadEnabledPolicies implements policyengine.PolicySource: every enabled
// policy with its rule groups, rules, and actions attached, ordered by
// priority ascending (lower priority value evaluated first, matching the
// policy engine's first-match semantics).
func (s *Store) LoadEnabledPolicies(ctx context.Context) ([]models.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, enabled, priority, failover_mode, updated
		FROM policies WHERE enabled = true ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load enabled policies: %w", err)
	}
	defer rows.Close()

	var policies []models.Policy
	for rows.Next() {
		var p models.Policy
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.Enabled, &p.Priority, &p.FailoverMode, &p.Updated); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		p.Description = desc.String
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range policies {
		groups, err := s.ruleGroupsForPolicy(ctx, policies[i].ID)
		if err != nil {
			return nil, err
		}
		policies[i].RuleGroups = groups

		actions, err := s.actionsForPolicy(ctx, policies[i].ID)
		if err != nil {
			return nil, err
		}
		policies[i].Actions = actions
	}
	return policies, nil
}

func (s *Store) ruleGroupsForPolicy(ctx context.Context, policyID string) ([]models.RuleGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, policy_id, "order" FROM rule_groups WHERE policy_id = ? ORDER BY "order" ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("store: load rule groups: %w", err)
	}
	defer rows.Close()

	var groups []models.RuleGroup
	for rows.Next() {
		var g models.RuleGroup
		if err := rows.Scan(&g.ID, &g.PolicyID, &g.Order); err != nil {
			return nil, fmt.Errorf("store: scan rule group: %w", err)
		}
		rules, err := s.rulesForGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.Rules = rules
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) rulesForGroup(ctx context.Context, groupID string) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_id, rule_type, operator, value, negate FROM rules WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: load rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var r models.Rule
		if err := rows.Scan(&r.ID, &r.GroupID, &r.RuleType, &r.Operator, &r.Value, &r.Negate); err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) actionsForPolicy(ctx context.Context, policyID string) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, policy_id, "order", action_type, required_method FROM actions WHERE policy_id = ? ORDER BY "order" ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("store: load actions: %w", err)
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		var method sql.NullString
		if err := rows.Scan(&a.ID, &a.PolicyID, &a.Order, &a.ActionType, &method); err != nil {
			return nil, fmt.Errorf("store: scan action: %w", err)
		}
		a.RequiredMethod = method.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ListPolicies returns every policy (enabled or not) for the admin surface,
// with rule groups and actions attached, ordered by priority.
func (s *Store) ListPolicies(ctx context.Context) ([]models.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, enabled, priority, failover_mode, updated
		FROM policies ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list policies: %w", err)
	}
	defer rows.Close()

	var policies []models.Policy
	for rows.Next() {
		var p models.Policy
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.Enabled, &p.Priority, &p.FailoverMode, &p.Updated); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		p.Description = desc.String
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range policies {
		groups, err := s.ruleGroupsForPolicy(ctx, policies[i].ID)
		if err != nil {
			return nil, err
		}
		policies[i].RuleGroups = groups
		actions, err := s.actionsForPolicy(ctx, policies[i].ID)
		if err != nil {
			return nil, err
		}
		policies[i].Actions = actions
	}
	return policies, nil
}

// GetPolicy returns one policy by id, or ErrNotFound.
func (s *Store) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	var p models.Policy
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, name, description, enabled, priority, failover_mode, updated
		FROM policies WHERE id = ?`, id).Scan(&p.ID, &p.Name, &desc, &p.Enabled, &p.Priority, &p.FailoverMode, &p.Updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get policy: %w", err)
	}
	p.Description = desc.String

	groups, err := s.ruleGroupsForPolicy(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.RuleGroups = groups
	actions, err := s.actionsForPolicy(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Actions = actions
	return &p, nil
}

// CreatePolicy inserts p and its rule groups/rules/actions, assigning ids
// to any that are empty.
func (s *Store) CreatePolicy(ctx context.Context, p *models.Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO policies (id, name, description, enabled, priority, failover_mode, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, p.ID, p.Name, p.Description, p.Enabled, p.Priority, p.FailoverMode, p.Updated); err != nil {
		return fmt.Errorf("store: insert policy: %w", err)
	}
	if err := insertPolicyChildren(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdatePolicy replaces p's row and all of its children (rule groups,
// rules, actions are deleted and reinserted wholesale, since the admin
// surface always submits the full policy document).
func (s *Store) UpdatePolicy(ctx context.Context, p *models.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE policies SET name = ?, description = ?, enabled = ?, priority = ?, failover_mode = ?, updated = ?
		WHERE id = ?`, p.Name, p.Description, p.Enabled, p.Priority, p.FailoverMode, p.Updated, p.ID)
	if err != nil {
		return fmt.Errorf("store: update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := deletePolicyChildren(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := insertPolicyChildren(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// SetPolicyEnabled toggles a policy's enabled flag.
func (s *Store) SetPolicyEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE policies SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("store: toggle policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePolicy removes a policy and its children.
func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if err := deletePolicyChildren(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func insertPolicyChildren(ctx context.Context, tx *sql.Tx, p *models.Policy) error {
	for gi := range p.RuleGroups {
		g := &p.RuleGroups[gi]
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		g.PolicyID = p.ID
		if _, err := tx.ExecContext(ctx, `INSERT INTO rule_groups (id, policy_id, "order") VALUES (?, ?, ?)`, g.ID, g.PolicyID, g.Order); err != nil {
			return fmt.Errorf("store: insert rule group: %w", err)
		}
		for ri := range g.Rules {
			r := &g.Rules[ri]
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			r.GroupID = g.ID
			if _, err := tx.ExecContext(ctx, `INSERT INTO rules (id, group_id, rule_type, operator, value, negate) VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, r.GroupID, r.RuleType, r.Operator, r.Value, r.Negate); err != nil {
				return fmt.Errorf("store: insert rule: %w", err)
			}
		}
	}
	for ai := range p.Actions {
		a := &p.Actions[ai]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.PolicyID = p.ID
		if _, err := tx.ExecContext(ctx, `INSERT INTO actions (id, policy_id, "order", action_type, required_method) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.PolicyID, a.Order, a.ActionType, nullString(a.RequiredMethod)); err != nil {
			return fmt.Errorf("store: insert action: %w", err)
		}
	}
	return nil
}

func deletePolicyChildren(ctx context.Context, tx *sql.Tx, policyID string) error {
	groupRows, err := tx.QueryContext(ctx, `SELECT id FROM rule_groups WHERE policy_id = ?`, policyID)
	if err != nil {
		return fmt.Errorf("store: list rule groups for delete: %w", err)
	}
	var groupIDs []string
	for groupRows.Next() {
		var id string
		if err := groupRows.Scan(&id); err != nil {
			groupRows.Close()
			return err
		}
		groupIDs = append(groupIDs, id)
	}
	groupRows.Close()

	for _, gid := range groupIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE group_id = ?`, gid); err != nil {
			return fmt.Errorf("store: delete rules: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_groups WHERE policy_id = ?`, policyID); err != nil {
		return fmt.Errorf("store: delete rule groups: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE policy_id = ?`, policyID); err != nil {
		return fmt.Errorf("store: delete actions: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
