// Package memory defines the contracts for the pluggable memory subsystem:
// memory domains, the provider lifecycle, the per-domain data model, the
// search backend collaborator interface, and the provider registry.
//
// Concrete providers live in subpackages (profilemem, knowledge) and register
// themselves with the default registry. The invoking layer constructs
// providers through the registry and only ever sees plain data records.
package memory

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Domain identifies a memory domain served by a provider.
type Domain string

const (
	// DomainProfile holds durable facts, preferences, and behavior patterns
	// about a user.
	DomainProfile Domain = "profile"
	// DomainKnowledge holds documents, search indexes, and the
	// entity-relationship graph.
	DomainKnowledge Domain = "knowledge"
)

// HealthState describes the coarse health of a provider.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Health is the result of a provider health check.
type Health struct {
	Status  HealthState       `json:"status"`
	Latency time.Duration     `json:"latency"`
	Details map[string]string `json:"details,omitempty"`
}

// Provider is the lifecycle contract every memory provider implements.
//
// Initialize and Shutdown are idempotent; Shutdown is safe without a prior
// Initialize. Any domain operation invoked outside the initialized window
// fails with ErrInvalidState.
type Provider interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) (*Health, error)
}

// Config carries construction-time settings for a provider.
type Config struct {
	// Logger for provider internals. Nil means slog.Default().
	Logger *slog.Logger

	// Search is the hybrid search service the knowledge domain delegates to.
	// Nil means degraded mode: searches return empty results and indexing
	// reports ErrBackendUnavailable.
	Search Searcher

	// DSN is the data source name for store-backed implementations.
	DSN string

	// DataDir is the directory for file-backed implementations.
	DataDir string

	// Metrics receives per-operation observations. Nil disables recording.
	Metrics Metrics

	// Options holds implementation-specific settings, e.g. the path of an
	// extraction rules file for the profile domain.
	Options map[string]string
}

// Metrics receives operation-level observations from providers.
type Metrics interface {
	ObserveOp(domain Domain, op string, d time.Duration, err error)
}

// Lifecycle is the shared initialize/shutdown state machine providers embed.
// The zero value is a fresh, not-yet-initialized lifecycle.
type Lifecycle struct {
	state atomic.Int32
}

const (
	lifecycleNew int32 = iota
	lifecycleReady
	lifecycleClosed
)

// Start transitions to the initialized state. It reports whether the caller
// won the transition; repeated calls are no-ops returning false.
func (l *Lifecycle) Start() bool {
	return l.state.CompareAndSwap(lifecycleNew, lifecycleReady)
}

// Stop transitions to the shut-down state from any prior state. It reports
// whether the caller won the transition.
func (l *Lifecycle) Stop() bool {
	if l.state.CompareAndSwap(lifecycleReady, lifecycleClosed) {
		return true
	}
	return l.state.CompareAndSwap(lifecycleNew, lifecycleClosed)
}

// Ready reports whether the lifecycle is in the initialized window.
func (l *Lifecycle) Ready() bool {
	return l.state.Load() == lifecycleReady
}

// Guard returns ErrInvalidState unless the lifecycle is initialized.
// Every domain operation calls this before touching state.
func (l *Lifecycle) Guard() error {
	if !l.Ready() {
		return ErrInvalidState
	}
	return nil
}
