package memory

import (
	"context"
	"time"
)

// FactCategory classifies a user fact.
type FactCategory string

const (
	CategoryPersonal   FactCategory = "personal"
	CategoryWork       FactCategory = "work"
	CategoryHobby      FactCategory = "hobby"
	CategoryHealth     FactCategory = "health"
	CategoryPreference FactCategory = "preference"
	CategoryOther      FactCategory = "other"
)

// FactSource records how a fact entered the system.
type FactSource string

const (
	// SourceExplicit means the user stated the fact directly.
	SourceExplicit FactSource = "explicit"
	// SourceInferred means the fact was extracted from conversation.
	SourceInferred FactSource = "inferred"
)

// UserFact is a single attributed statement about a user.
// ID and CreatedAt are immutable after creation; UpdatedAt is monotonic
// non-decreasing.
type UserFact struct {
	ID         string       `json:"id"`
	Category   FactCategory `json:"category"`
	Key        string       `json:"key"`
	Value      string       `json:"value"`
	Confidence float32      `json:"confidence"`
	Source     FactSource   `json:"source"`
	Sensitive  bool         `json:"sensitive"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// FactPatch is a partial update to a fact. Nil fields are left untouched.
type FactPatch struct {
	Category   *FactCategory `json:"category,omitempty"`
	Key        *string       `json:"key,omitempty"`
	Value      *string       `json:"value,omitempty"`
	Confidence *float32      `json:"confidence,omitempty"`
	Source     *FactSource   `json:"source,omitempty"`
	Sensitive  *bool         `json:"sensitive,omitempty"`
}

// Preferences is the single structured preferences record per user.
// Updates are deep merges; nested fields absent from a patch survive.
type Preferences map[string]any

// DefaultPreferences returns the centrally defined preference defaults.
// ResetPreferences restores exactly this record.
func DefaultPreferences() Preferences {
	return Preferences{
		"language": "en",
		"timezone": "UTC",
		"communication": map[string]any{
			"style":     "neutral",
			"verbosity": "normal",
		},
		"notifications": map[string]any{
			"email": true,
			"push":  false,
		},
	}
}

// BehaviorPattern describes a recurring behavior inferred about a user.
// Confirmed is tri-state: nil (unset), true, or false.
type BehaviorPattern struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
	Confirmed   *bool          `json:"confirmed,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PatternPatch is a partial update to a behavior pattern.
type PatternPatch struct {
	Type        *string        `json:"type,omitempty"`
	Description *string        `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Extraction is the result of a rule-based pass over a conversation.
// Repeated candidates are not deduplicated; callers merging results are
// responsible for collapsing repeats.
type Extraction struct {
	ID           string             `json:"id"`
	NewFacts     []*UserFact        `json:"new_facts"`
	UpdatedFacts []*UserFact        `json:"updated_facts"`
	NewPatterns  []*BehaviorPattern `json:"new_patterns"`
}

// ProfileSnapshot is the full exported profile of a user.
type ProfileSnapshot struct {
	Facts       []*UserFact        `json:"facts"`
	Preferences Preferences        `json:"preferences"`
	Patterns    []*BehaviorPattern `json:"patterns"`
}

// ProfileProvider manages per-user facts, preferences, and behavior
// patterns. All operations are scoped by userID; one user's data is
// invisible to and independent from another's.
type ProfileProvider interface {
	Provider

	// AddFact stores a fact. ID and timestamps are generated server-side.
	AddFact(ctx context.Context, userID string, fact *UserFact) (string, error)
	// UpdateFact applies a partial update. ErrNotFound if the fact is
	// unknown to that user. ID and CreatedAt are preserved.
	UpdateFact(ctx context.Context, userID, factID string, patch *FactPatch) error
	// DeleteFact removes a fact; absent ids are an idempotent no-op.
	DeleteFact(ctx context.Context, userID, factID string) error
	// GetFacts lists facts ordered by UpdatedAt descending, optionally
	// filtered by category ("" means all).
	GetFacts(ctx context.Context, userID string, category FactCategory) ([]*UserFact, error)
	// SearchFacts returns facts whose key+value text contains every
	// whitespace-split query term, case-insensitively.
	SearchFacts(ctx context.Context, userID, query string) ([]*UserFact, error)

	GetPreferences(ctx context.Context, userID string) (Preferences, error)
	// UpdatePreferences deep-merges patch into the stored record.
	UpdatePreferences(ctx context.Context, userID string, patch Preferences) (Preferences, error)
	ResetPreferences(ctx context.Context, userID string) error

	AddPattern(ctx context.Context, userID string, pattern *BehaviorPattern) (string, error)
	GetPatterns(ctx context.Context, userID string) ([]*BehaviorPattern, error)
	UpdatePattern(ctx context.Context, userID, patternID string, patch *PatternPatch) error
	DeletePattern(ctx context.Context, userID, patternID string) error
	// ConfirmPattern flips only Confirmed and bumps UpdatedAt.
	ConfirmPattern(ctx context.Context, userID, patternID string, confirmed bool) error

	// ExtractFromConversation applies the trigger-rule pipeline to the
	// user-authored messages of a transcript. It never fails on no match.
	ExtractFromConversation(ctx context.Context, userID string, messages []Message) (*Extraction, error)
	// ConfirmExtraction records an accept/reject acknowledgment for a
	// previous extraction. It has no retroactive effect on stored facts.
	ConfirmExtraction(ctx context.Context, userID, extractionID string, confirmed bool) error

	ExportProfile(ctx context.Context, userID string) (*ProfileSnapshot, error)
}
