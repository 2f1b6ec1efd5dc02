package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	Lifecycle
}

func (s *stubProvider) Initialize(ctx context.Context) error {
	s.Start()
	return nil
}

func (s *stubProvider) Shutdown(ctx context.Context) error {
	s.Stop()
	return nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) (*Health, error) {
	return &Health{Status: HealthHealthy}, nil
}

func stubConstructor(cfg Config) (Provider, error) {
	return &stubProvider{}, nil
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(DomainProfile, "stub", stubConstructor))

	p, err := r.New(DomainProfile, "stub", Config{})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(DomainProfile, "stub", stubConstructor))
	err := r.Register(DomainProfile, "stub", stubConstructor)
	assert.Error(t, err)
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(DomainProfile, "stub", stubConstructor))

	_, err := r.New(DomainProfile, "nope", Config{})
	assert.Error(t, err)

	_, err = r.New(DomainKnowledge, "stub", Config{})
	assert.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(DomainProfile, "zeta", stubConstructor))
	require.NoError(t, r.Register(DomainProfile, "alpha", stubConstructor))
	require.NoError(t, r.Register(DomainKnowledge, "alpha", stubConstructor))

	assert.Equal(t, []string{"alpha", "zeta"}, r.List(DomainProfile))
	assert.Equal(t, []string{"alpha"}, r.List(DomainKnowledge))
	assert.Empty(t, r.List(Domain("other")))
}

func TestLifecycle(t *testing.T) {
	var l Lifecycle

	assert.False(t, l.Ready())
	assert.ErrorIs(t, l.Guard(), ErrInvalidState)

	assert.True(t, l.Start())
	assert.False(t, l.Start())
	assert.True(t, l.Ready())
	assert.NoError(t, l.Guard())

	assert.True(t, l.Stop())
	assert.False(t, l.Stop())
	assert.False(t, l.Ready())
	assert.ErrorIs(t, l.Guard(), ErrInvalidState)
}

func TestLifecycleStopWithoutStart(t *testing.T) {
	var l Lifecycle
	assert.True(t, l.Stop())
	assert.ErrorIs(t, l.Guard(), ErrInvalidState)
}
