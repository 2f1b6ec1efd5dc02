package profilemem

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemos/memory"
)

func TestSQLiteRequiresDSN(t *testing.T) {
	_, err := NewSQLite(memory.Config{})
	assert.Error(t, err)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "profile.db")

	p, err := NewSQLite(memory.Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(ctx))

	factID, err := p.AddFact(ctx, "u1", &memory.UserFact{
		Category: memory.CategoryWork, Key: "employer", Value: "Acme", Confidence: 0.9,
		Source: memory.SourceExplicit, Sensitive: true,
	})
	require.NoError(t, err)
	_, err = p.UpdatePreferences(ctx, "u1", memory.Preferences{"language": "de"})
	require.NoError(t, err)
	patternID, err := p.AddPattern(ctx, "u1", &memory.BehaviorPattern{
		Type: "schedule", Description: "late-night sessions", Payload: map[string]any{"hour": "23"},
	})
	require.NoError(t, err)
	require.NoError(t, p.ConfirmPattern(ctx, "u1", patternID, true))
	require.NoError(t, p.Shutdown(ctx))

	reopened, err := NewSQLite(memory.Config{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))
	defer reopened.Shutdown(ctx)

	facts, err := reopened.GetFacts(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, factID, facts[0].ID)
	assert.Equal(t, "Acme", facts[0].Value)
	assert.True(t, facts[0].Sensitive)

	prefs, err := reopened.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "de", prefs["language"])

	patterns, err := reopened.GetPatterns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	require.NotNil(t, patterns[0].Confirmed)
	assert.True(t, *patterns[0].Confirmed)
	assert.Equal(t, "23", patterns[0].Payload["hour"])
}

func TestSQLiteLifecycleGuard(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "profile.db")

	p, err := NewSQLite(memory.Config{DSN: dsn})
	require.NoError(t, err)

	_, err = p.GetFacts(ctx, "u1", "")
	assert.ErrorIs(t, err, memory.ErrInvalidState)

	// Shutdown without Initialize is safe
	require.NoError(t, p.Shutdown(ctx))
}
