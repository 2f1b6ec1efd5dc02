// Package profilemem provides the profile memory domain: durable facts,
// a single preferences record, and behavior patterns per user, plus
// rule-based extraction from conversation transcripts.
//
// Two implementations are registered: "memory" (sharded in-memory tables)
// and "sqlite" (durable, modernc.org/sqlite).
package profilemem

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/mnemos/internal/usershard"
	"github.com/hrygo/mnemos/memory"
	"github.com/hrygo/mnemos/memory/extract"
)

func init() {
	memory.MustRegister(memory.DomainProfile, "memory", func(cfg memory.Config) (memory.Provider, error) {
		return New(cfg)
	})
}

type extractionAck struct {
	confirmed bool
	ackedAt   time.Time
}

// userState holds one user's profile tables. Access is guarded by the
// usershard lock of the owning Map.
type userState struct {
	facts       map[string]*memory.UserFact
	prefs       memory.Preferences
	patterns    map[string]*memory.BehaviorPattern
	extractions map[string]*extractionAck
}

func newUserState() *userState {
	return &userState{
		facts:       make(map[string]*memory.UserFact),
		prefs:       memory.DefaultPreferences(),
		patterns:    make(map[string]*memory.BehaviorPattern),
		extractions: make(map[string]*extractionAck),
	}
}

// Provider is the in-memory profile provider.
type Provider struct {
	memory.Lifecycle

	users    *usershard.Map[*userState]
	pipeline *extract.Pipeline
	logger   *slog.Logger
	metrics  memory.Metrics
}

// New creates an in-memory profile provider. The extraction rule list comes
// from cfg.Options["rules_file"] when set, else the built-in defaults.
func New(cfg memory.Config) (*Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rules := extract.Default()
	if path := cfg.Options["rules_file"]; path != "" {
		loaded, err := extract.LoadRules(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	return &Provider{
		users:    usershard.New(newUserState),
		pipeline: extract.NewPipeline(rules),
		logger:   logger.With("provider", "profile/memory"),
		metrics:  cfg.Metrics,
	}, nil
}

// Initialize is idempotent; the in-memory provider has no resources to
// allocate beyond its tables.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.Start() {
		p.logger.Info("profile provider initialized")
	}
	return nil
}

// Shutdown is idempotent and safe without a prior Initialize.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.Stop() {
		p.logger.Info("profile provider shut down")
	}
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*memory.Health, error) {
	start := time.Now()
	status := memory.HealthHealthy
	if !p.Ready() {
		status = memory.HealthUnhealthy
	}
	return &memory.Health{
		Status:  status,
		Latency: time.Since(start),
		Details: map[string]string{"users": strconv.Itoa(len(p.users.Keys()))},
	}, nil
}

func (p *Provider) observe(op string, start time.Time, err error) {
	if p.metrics != nil {
		p.metrics.ObserveOp(memory.DomainProfile, op, time.Since(start), err)
	}
}

// AddFact stores a fact; id and timestamps are generated here, never taken
// from the caller.
func (p *Provider) AddFact(ctx context.Context, userID string, fact *memory.UserFact) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_fact", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	now := time.Now()
	stored := *fact
	stored.ID = uuid.New().String()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	p.users.Mutate(userID, func(u *userState) {
		u.facts[stored.ID] = &stored
	})
	return stored.ID, nil
}

func (p *Provider) UpdateFact(ctx context.Context, userID, factID string, patch *memory.FactPatch) (err error) {
	start := time.Now()
	defer func() { p.observe("update_fact", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	err = memory.ErrNotFound
	p.users.Mutate(userID, func(u *userState) {
		fact, ok := u.facts[factID]
		if !ok {
			return
		}
		applyFactPatch(fact, patch)
		fact.UpdatedAt = bump(fact.UpdatedAt)
		err = nil
	})
	return err
}

// DeleteFact is an idempotent no-op when the fact is absent.
func (p *Provider) DeleteFact(ctx context.Context, userID, factID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_fact", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(u *userState) {
		delete(u.facts, factID)
	})
	return nil
}

func (p *Provider) GetFacts(ctx context.Context, userID string, category memory.FactCategory) ([]*memory.UserFact, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	var facts []*memory.UserFact
	p.users.View(userID, func(u *userState, ok bool) {
		if !ok {
			return
		}
		for _, f := range u.facts {
			if category != "" && f.Category != category {
				continue
			}
			clone := *f
			facts = append(facts, &clone)
		}
	})
	sortFactsByUpdatedAt(facts)
	return facts, nil
}

// SearchFacts matches every whitespace-split query term against the fact's
// key+value text, case-insensitively. All terms must appear.
func (p *Provider) SearchFacts(ctx context.Context, userID, query string) ([]*memory.UserFact, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	var facts []*memory.UserFact
	p.users.View(userID, func(u *userState, ok bool) {
		if !ok {
			return
		}
		for _, f := range u.facts {
			if matchesAllTerms(f, terms) {
				clone := *f
				facts = append(facts, &clone)
			}
		}
	})
	sortFactsByUpdatedAt(facts)
	return facts, nil
}

func (p *Provider) AddPattern(ctx context.Context, userID string, pattern *memory.BehaviorPattern) (id string, err error) {
	start := time.Now()
	defer func() { p.observe("add_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return "", err
	}

	stored := *pattern
	stored.ID = uuid.New().String()
	stored.Confirmed = nil
	stored.UpdatedAt = time.Now()

	p.users.Mutate(userID, func(u *userState) {
		u.patterns[stored.ID] = &stored
	})
	return stored.ID, nil
}

func (p *Provider) GetPatterns(ctx context.Context, userID string) ([]*memory.BehaviorPattern, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	var patterns []*memory.BehaviorPattern
	p.users.View(userID, func(u *userState, ok bool) {
		if !ok {
			return
		}
		for _, pat := range u.patterns {
			clone := *pat
			patterns = append(patterns, &clone)
		}
	})
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].UpdatedAt.After(patterns[j].UpdatedAt)
	})
	return patterns, nil
}

func (p *Provider) UpdatePattern(ctx context.Context, userID, patternID string, patch *memory.PatternPatch) (err error) {
	start := time.Now()
	defer func() { p.observe("update_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	err = memory.ErrNotFound
	p.users.Mutate(userID, func(u *userState) {
		pat, ok := u.patterns[patternID]
		if !ok {
			return
		}
		if patch.Type != nil {
			pat.Type = *patch.Type
		}
		if patch.Description != nil {
			pat.Description = *patch.Description
		}
		if patch.Payload != nil {
			pat.Payload = patch.Payload
		}
		pat.UpdatedAt = bump(pat.UpdatedAt)
		err = nil
	})
	return err
}

func (p *Provider) DeletePattern(ctx context.Context, userID, patternID string) (err error) {
	start := time.Now()
	defer func() { p.observe("delete_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(u *userState) {
		delete(u.patterns, patternID)
	})
	return nil
}

// ConfirmPattern touches only Confirmed and UpdatedAt; every other field is
// left as-is.
func (p *Provider) ConfirmPattern(ctx context.Context, userID, patternID string, confirmed bool) (err error) {
	start := time.Now()
	defer func() { p.observe("confirm_pattern", start, err) }()
	if err = p.Guard(); err != nil {
		return err
	}

	err = memory.ErrNotFound
	p.users.Mutate(userID, func(u *userState) {
		pat, ok := u.patterns[patternID]
		if !ok {
			return
		}
		pat.Confirmed = &confirmed
		pat.UpdatedAt = bump(pat.UpdatedAt)
		err = nil
	})
	return err
}

func (p *Provider) ExtractFromConversation(ctx context.Context, userID string, messages []memory.Message) (*memory.Extraction, error) {
	var err error
	start := time.Now()
	defer func() { p.observe("extract", start, err) }()
	if err = p.Guard(); err != nil {
		return nil, err
	}

	result := &memory.Extraction{
		ID:           shortuuid.New(),
		NewFacts:     p.pipeline.Run(messages),
		UpdatedFacts: []*memory.UserFact{},
		NewPatterns:  []*memory.BehaviorPattern{},
	}
	if result.NewFacts == nil {
		result.NewFacts = []*memory.UserFact{}
	}
	return result, nil
}

// ConfirmExtraction records the acknowledgment; it does not rewrite facts
// produced by the extraction.
func (p *Provider) ConfirmExtraction(ctx context.Context, userID, extractionID string, confirmed bool) error {
	if err := p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(u *userState) {
		u.extractions[extractionID] = &extractionAck{confirmed: confirmed, ackedAt: time.Now()}
	})
	return nil
}

func (p *Provider) ExportProfile(ctx context.Context, userID string) (*memory.ProfileSnapshot, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	facts, err := p.GetFacts(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	prefs, err := p.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	patterns, err := p.GetPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &memory.ProfileSnapshot{Facts: facts, Preferences: prefs, Patterns: patterns}, nil
}

func applyFactPatch(fact *memory.UserFact, patch *memory.FactPatch) {
	if patch == nil {
		return
	}
	if patch.Category != nil {
		fact.Category = *patch.Category
	}
	if patch.Key != nil {
		fact.Key = *patch.Key
	}
	if patch.Value != nil {
		fact.Value = *patch.Value
	}
	if patch.Confidence != nil {
		fact.Confidence = *patch.Confidence
	}
	if patch.Source != nil {
		fact.Source = *patch.Source
	}
	if patch.Sensitive != nil {
		fact.Sensitive = *patch.Sensitive
	}
}

func matchesAllTerms(f *memory.UserFact, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	haystack := strings.ToLower(f.Key + " " + f.Value)
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func sortFactsByUpdatedAt(facts []*memory.UserFact) {
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].UpdatedAt.After(facts[j].UpdatedAt)
	})
}

// bump returns the current time, nudged forward when the clock has not
// advanced past prev, keeping UpdatedAt strictly increasing per record.
func bump(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

var _ memory.ProfileProvider = (*Provider)(nil)
