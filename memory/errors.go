package memory

import "errors"

// Error taxonomy shared by all providers.
//
// Mutating operations on an unknown id fail with ErrNotFound and never
// silently no-op, except the delete family, which is idempotent. Extraction
// and graph answering never fail on "no matches"; absence of a match is an
// expected outcome, not an error.
var (
	// ErrNotFound means the operation referenced a fact, pattern, document,
	// entity, or relationship id that does not exist for that user.
	ErrNotFound = errors.New("memory: not found")

	// ErrBackendUnavailable means no search backend is configured. Search
	// operations degrade to empty results instead; indexing operations
	// report this explicitly.
	ErrBackendUnavailable = errors.New("memory: search backend unavailable")

	// ErrInvalidState means a domain operation ran before Initialize or
	// after Shutdown.
	ErrInvalidState = errors.New("memory: provider not initialized")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
