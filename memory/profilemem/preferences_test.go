package profilemem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemos/memory"
)

func TestGetPreferencesDefaults(t *testing.T) {
	forEachImpl(t, func(t *testing.T, p memory.ProfileProvider) {
		prefs, err := p.GetPreferences(context.Background(), "fresh-user")
		require.NoError(t, err)
		assert.Equal(t, memory.DefaultPreferences(), prefs)
	})
}

func TestUpdatePreferencesDeepMerge(t *testing.T) {
	forEachImpl(t, func(t *testing.T, p memory.ProfileProvider) {
		ctx := context.Background()

		merged, err := p.UpdatePreferences(ctx, "u1", memory.Preferences{
			"language": "de",
			"communication": map[string]any{
				"style": "formal",
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "de", merged["language"])
		assert.Equal(t, "UTC", merged["timezone"])

		comm, ok := merged["communication"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "formal", comm["style"])
		// nested field absent from the patch survives the merge
		assert.Equal(t, "normal", comm["verbosity"])

		// the merge is durable
		got, err := p.GetPreferences(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "de", got["language"])
	})
}

func TestUpdatePreferencesReplacesScalars(t *testing.T) {
	forEachImpl(t, func(t *testing.T, p memory.ProfileProvider) {
		ctx := context.Background()

		_, err := p.UpdatePreferences(ctx, "u1", memory.Preferences{"timezone": "Europe/Berlin"})
		require.NoError(t, err)

		merged, err := p.UpdatePreferences(ctx, "u1", memory.Preferences{"timezone": "Asia/Tokyo"})
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", merged["timezone"])
	})
}

func TestResetPreferences(t *testing.T) {
	forEachImpl(t, func(t *testing.T, p memory.ProfileProvider) {
		ctx := context.Background()

		_, err := p.UpdatePreferences(ctx, "u1", memory.Preferences{
			"language": "fr",
			"notifications": map[string]any{
				"email": false,
			},
			"custom": "value",
		})
		require.NoError(t, err)

		require.NoError(t, p.ResetPreferences(ctx, "u1"))

		got, err := p.GetPreferences(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, memory.DefaultPreferences(), got)
	})
}

func TestPreferencesIsolatedPerUser(t *testing.T) {
	forEachImpl(t, func(t *testing.T, p memory.ProfileProvider) {
		ctx := context.Background()

		_, err := p.UpdatePreferences(ctx, "u1", memory.Preferences{"language": "de"})
		require.NoError(t, err)

		other, err := p.GetPreferences(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, "en", other["language"])
	})
}

func TestUpdatePreferencesDetachesFromPatch(t *testing.T) {
	forEachImpl(t, func(t *testing.T, p memory.ProfileProvider) {
		ctx := context.Background()

		nested := map[string]any{"slack": "on"}
		patch := memory.Preferences{"integrations": nested}
		_, err := p.UpdatePreferences(ctx, "u1", patch)
		require.NoError(t, err)

		// Mutating the maps handed to UpdatePreferences must not reach
		// the stored record.
		nested["slack"] = "mutated"
		patch["language"] = "xx"

		prefs, err := p.GetPreferences(ctx, "u1")
		require.NoError(t, err)
		integrations, ok := prefs["integrations"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "on", integrations["slack"])
		assert.NotEqual(t, "xx", prefs["language"])
	})
}
