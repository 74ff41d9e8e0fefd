package automation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("automation rule not found")

// RuleRepository defines the persistence interface for automation rules.
type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Rule, error)
}
