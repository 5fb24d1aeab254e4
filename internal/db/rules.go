package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/vdavid/mailsync/internal/models"
)

// ErrRuleNotFound is returned when no rule row matches.
var ErrRuleNotFound = errors.New("rule not found")

type ruleRow struct {
	ID            int64         `db:"id"`
	Name          string        `db:"name"`
	ConditionJSON string        `db:"condition_json"`
	ActionJSON    string        `db:"action_json"`
	AccountID     sql.NullInt64 `db:"account_id"`
	IsActive      bool          `db:"is_active"`
}

func (r *ruleRow) toModel() (*models.Rule, error) {
	rule := &models.Rule{ID: r.ID, Name: r.Name, IsActive: r.IsActive}
	if err := json.Unmarshal([]byte(r.ConditionJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of rule %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.ActionJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of rule %d: %w", r.ID, err)
	}
	if r.AccountID.Valid {
		id := r.AccountID.Int64
		rule.AccountID = &id
	}
	return rule, nil
}

func ruleArgs(rule *models.Rule) (string, string, sql.NullInt64, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", sql.NullInt64{}, fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", sql.NullInt64{}, fmt.Errorf("failed to encode actions: %w", err)
	}
	var accountID sql.NullInt64
	if rule.AccountID != nil {
		accountID = sql.NullInt64{Int64: *rule.AccountID, Valid: true}
	}
	return string(conditions), string(actions), accountID, nil
}

// CreateRule inserts the rule and sets its ID.
func CreateRule(ctx context.Context, database *DB, rule *models.Rule) error {
	conditions, actions, accountID, err := ruleArgs(rule)
	if err != nil {
		return err
	}

	err = database.QueryRowxContext(ctx, database.Rebind(`
		INSERT INTO rules (name, condition_json, action_json, account_id, is_active)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), rule.Name, conditions, actions, accountID, rule.IsActive).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateRule overwrites an existing rule.
func UpdateRule(ctx context.Context, database *DB, rule *models.Rule) error {
	conditions, actions, accountID, err := ruleArgs(rule)
	if err != nil {
		return err
	}

	result, err := database.ExecContext(ctx, database.Rebind(`
		UPDATE rules SET name = ?, condition_json = ?, action_json = ?, account_id = ?, is_active = ?
		WHERE id = ?
	`), rule.Name, conditions, actions, accountID, rule.IsActive, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule by id.
func DeleteRule(ctx context.Context, database *DB, id int64) error {
	result, err := database.ExecContext(ctx, database.Rebind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// ListRules returns the active rules that apply to an account: its own rules plus
// global ones, in id order. A nil accountID returns global rules only.
func ListRules(ctx context.Context, database *DB, accountID *int64) ([]*models.Rule, error) {
	var rows []ruleRow
	var err error
	if accountID == nil {
		err = database.SelectContext(ctx, &rows, database.Rebind(`
			SELECT id, name, condition_json, action_json, account_id, is_active
			FROM rules
			WHERE is_active = ? AND account_id IS NULL
			ORDER BY id
		`), true)
	} else {
		err = database.SelectContext(ctx, &rows, database.Rebind(`
			SELECT id, name, condition_json, action_json, account_id, is_active
			FROM rules
			WHERE is_active = ? AND (account_id = ? OR account_id IS NULL)
			ORDER BY id
		`), true, *accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return decodeRules(rows), nil
}

// ListAllRules returns every rule, active or not.
func ListAllRules(ctx context.Context, database *DB) ([]*models.Rule, error) {
	var rows []ruleRow
	err := database.SelectContext(ctx, &rows, `
		SELECT id, name, condition_json, action_json, account_id, is_active
		FROM rules
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return decodeRules(rows), nil
}

// decodeRules logs and skips rows whose JSON cannot be decoded.
func decodeRules(rows []ruleRow) []*models.Rule {
	rules := make([]*models.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toModel()
		if err != nil {
			log.Printf("Warning: skipping rule: %v", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}
