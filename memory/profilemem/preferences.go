package profilemem

import (
	"context"

	"github.com/hrygo/mnemos/memory"
)

func (p *Provider) GetPreferences(ctx context.Context, userID string) (memory.Preferences, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	prefs := memory.DefaultPreferences()
	p.users.View(userID, func(u *userState, ok bool) {
		if ok {
			prefs = clonePreferences(u.prefs)
		}
	})
	return prefs, nil
}

// UpdatePreferences deep-merges patch into the stored record: nested maps
// merge key by key, anything else in the patch replaces. Nested fields the
// patch does not mention survive untouched.
func (p *Provider) UpdatePreferences(ctx context.Context, userID string, patch memory.Preferences) (memory.Preferences, error) {
	if err := p.Guard(); err != nil {
		return nil, err
	}

	var merged memory.Preferences
	p.users.Mutate(userID, func(u *userState) {
		u.prefs = mergePreferences(u.prefs, patch)
		merged = clonePreferences(u.prefs)
	})
	return merged, nil
}

func (p *Provider) ResetPreferences(ctx context.Context, userID string) error {
	if err := p.Guard(); err != nil {
		return err
	}
	p.users.Mutate(userID, func(u *userState) {
		u.prefs = memory.DefaultPreferences()
	})
	return nil
}

// mergePreferences returns dst with patch deep-merged in. dst is modified in
// place and returned for convenience.
func mergePreferences(dst, patch memory.Preferences) memory.Preferences {
	if dst == nil {
		dst = memory.Preferences{}
	}
	for key, val := range patch {
		patchMap, patchIsMap := asMap(val)
		dstMap, dstIsMap := asMap(dst[key])
		if patchIsMap && dstIsMap {
			dst[key] = map[string]any(mergePreferences(dstMap, patchMap))
			continue
		}
		// Clone patch maps so later caller mutations cannot reach the
		// stored record.
		if patchIsMap {
			dst[key] = map[string]any(clonePreferences(patchMap))
			continue
		}
		dst[key] = val
	}
	return dst
}

func asMap(v any) (memory.Preferences, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case memory.Preferences:
		return m, true
	default:
		return nil, false
	}
}

func clonePreferences(prefs memory.Preferences) memory.Preferences {
	out := make(memory.Preferences, len(prefs))
	for key, val := range prefs {
		if m, ok := asMap(val); ok {
			out[key] = map[string]any(clonePreferences(m))
			continue
		}
		out[key] = val
	}
	return out
}
