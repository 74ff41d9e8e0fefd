package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/platform/textnorm"
	"github.com/ehr/history/internal/section"
	"github.com/ehr/history/internal/timeline"
)

// SectionTarget is a section that automation rules can be applied to.
type SectionTarget interface {
	Key() string
	ApplyAutomationFilters(ctx context.Context, settings section.AutomationSettings, ruleName string) error
	ClearAutomation()
}

// TimelineTarget is the timeline, which arms rules instead of applying them.
type TimelineTarget interface {
	ApplyAutomationFilters(ruleName string, rules timeline.RuleFilters)
	ClearAutomation()
}

type Service struct {
	repo     RuleRepository
	configs  []section.Config
	log      zerolog.Logger
	sections []SectionTarget
	timeline TimelineTarget
}

func NewService(repo RuleRepository, configs []section.Config, logger zerolog.Logger) *Service {
	return &Service{repo: repo, configs: configs, log: logger.With().Str("component", "automation").Logger()}
}

// SetTargets wires the controllers ApplyRule acts on.
func (s *Service) SetTargets(sections []SectionTarget, tl TimelineTarget) {
	s.sections = sections
	s.timeline = tl
}

func (s *Service) CreateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(s.configs); err != nil {
		return err
	}
	return s.repo.Create(ctx, r)
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(s.configs); err != nil {
		return err
	}
	return s.repo.Update(ctx, r)
}

func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListRules(ctx context.Context) ([]*Rule, error) {
	return s.repo.List(ctx)
}

// Import upserts rules by name. It returns how many were created and updated.
func (s *Service) Import(ctx context.Context, rules []*Rule) (created, updated int, err error) {
	for _, r := range rules {
		if err := r.Validate(s.configs); err != nil {
			return 0, 0, err
		}
	}
	existing, err := s.repo.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	byName := make(map[string]*Rule, len(existing))
	for _, r := range existing {
		byName[strings.ToLower(r.Name)] = r
	}
	for _, r := range rules {
		if old, ok := byName[strings.ToLower(r.Name)]; ok {
			r.ID = old.ID
			if err := s.repo.Update(ctx, r); err != nil {
				return created, updated, err
			}
			updated++
			continue
		}
		if err := s.repo.Create(ctx, r); err != nil {
			return created, updated, err
		}
		byName[strings.ToLower(r.Name)] = r
		created++
	}
	s.log.Info().Int("created", created).Int("updated", updated).Msg("automation rules imported")
	return created, updated, nil
}

// ImportFile loads a YAML rules file and imports it.
func (s *Service) ImportFile(ctx context.Context, path string) (created, updated int, err error) {
	rules, err := LoadRulesFile(path)
	if err != nil {
		return 0, 0, err
	}
	return s.Import(ctx, rules)
}

// FindMatching returns the active rules with a trigger keyword contained in
// contextText, compared accent-insensitively.
func (s *Service) FindMatching(ctx context.Context, contextText string) ([]*Rule, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	text := textnorm.Normalize(contextText)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var out []*Rule
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		for _, k := range r.Keywords() {
			if strings.Contains(text, textnorm.Normalize(k)) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// Apply applies r to every section it has settings for and arms it on the
// timeline. Sections that cannot fetch (no patient) still receive the
// filters; their errors are joined into the result.
func (s *Service) Apply(ctx context.Context, r *Rule) error {
	var errs []error
	for _, target := range s.sections {
		settings, ok := r.FilterSettings[target.Key()]
		if !ok {
			continue
		}
		if err := target.ApplyAutomationFilters(ctx, settings, r.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Key(), err))
		}
	}
	if s.timeline != nil {
		s.timeline.ApplyAutomationFilters(r.Name, r.TimelineFilters())
	}
	s.log.Info().Str("rule", r.Name).Int("sections", len(r.FilterSettings)).Msg("automation rule applied")
	return errors.Join(errs...)
}

// ApplyRule looks up a rule by ID and applies it.
func (s *Service) ApplyRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r, s.Apply(ctx, r)
}

// ApplyMatching applies the first active rule triggered by contextText. It
// returns nil when no rule matches.
func (s *Service) ApplyMatching(ctx context.Context, contextText string) (*Rule, error) {
	matches, err := s.FindMatching(ctx, contextText)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	if len(matches) > 1 {
		s.log.Debug().Int("matches", len(matches)).Str("rule", matches[0].Name).Msg("several rules triggered, applying the first")
	}
	return matches[0], s.Apply(ctx, matches[0])
}

// ClearAll dismisses the applied rule on every section and the timeline.
func (s *Service) ClearAll() {
	for _, target := range s.sections {
		target.ClearAutomation()
	}
	if s.timeline != nil {
		s.timeline.ClearAutomation()
	}
}
