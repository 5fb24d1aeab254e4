package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrInvalidRule is returned when a rule cannot be stored.
var ErrInvalidRule = errors.New("invalid rule")

// Manager stores rules in the cache database.
type Manager struct {
	database *db.DB
}

// NewManager creates a rule manager.
func NewManager(database *db.DB) *Manager {
	return &Manager{database: database}
}

func validate(rule *models.Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Actions.MoveTo) == "" {
		return fmt.Errorf("%w: move_to is required", ErrInvalidRule)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidRule)
	}
	for field := range rule.Conditions {
		if !KnownField(field) {
			return fmt.Errorf("%w: unknown condition field %q", ErrInvalidRule, field)
		}
	}
	return nil
}

// Create validates and stores a new rule.
func (m *Manager) Create(ctx context.Context, rule *models.Rule) error {
	if err := validate(rule); err != nil {
		return err
	}
	return db.CreateRule(ctx, m.database, rule)
}

// Update validates and overwrites an existing rule.
func (m *Manager) Update(ctx context.Context, rule *models.Rule) error {
	if err := validate(rule); err != nil {
		return err
	}
	return db.UpdateRule(ctx, m.database, rule)
}

// Delete removes a rule.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	return db.DeleteRule(ctx, m.database, id)
}

// List returns every rule, active or not.
func (m *Manager) List(ctx context.Context) ([]*models.Rule, error) {
	return db.ListAllRules(ctx, m.database)
}

// ForAccount returns the active rules for an account, its own and global ones, in id order.
func (m *Manager) ForAccount(ctx context.Context, accountID int64) ([]*models.Rule, error) {
	return db.ListRules(ctx, m.database, &accountID)
}
