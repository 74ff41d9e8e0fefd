package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/history/internal/platform/store"
)

// StoreKey is the key-value store entry holding every rule.
const StoreKey = "automationRules"

type storeRepo struct {
	mu    sync.Mutex
	store store.Store
}

// NewStoreRepo keeps the rules as one JSON list under StoreKey.
func NewStoreRepo(s store.Store) RuleRepository {
	return &storeRepo{store: s}
}

func (r *storeRepo) load(ctx context.Context) ([]*Rule, error) {
	var rules []*Rule
	err := store.GetJSON(ctx, r.store, StoreKey, &rules)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load automation rules: %w", err)
	}
	return rules, nil
}

func (r *storeRepo) save(ctx context.Context, rules []*Rule) error {
	if rules == nil {
		rules = []*Rule{}
	}
	if err := store.SetJSON(ctx, r.store, StoreKey, rules); err != nil {
		return fmt.Errorf("save automation rules: %w", err)
	}
	return nil
}

func (r *storeRepo) Create(ctx context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.load(ctx)
	if err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return r.save(ctx, append(rules, rule))
}

func (r *storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return nil, ErrNotFound
}

func (r *storeRepo) Update(ctx context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i, existing := range rules {
		if existing.ID == rule.ID {
			rule.CreatedAt = existing.CreatedAt
			rule.UpdatedAt = time.Now().UTC()
			rules[i] = rule
			return r.save(ctx, rules)
		}
	}
	return ErrNotFound
}

func (r *storeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.load(ctx)
	if err != nil {
		return err
	}
	kept := rules[:0]
	found := false
	for _, rule := range rules {
		if rule.ID == id {
			found = true
			continue
		}
		kept = append(kept, rule)
	}
	if !found {
		return ErrNotFound
	}
	return r.save(ctx, kept)
}

func (r *storeRepo) List(ctx context.Context) ([]*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}
