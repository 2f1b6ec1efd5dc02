package usershard

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n int
}

func newCounterMap() *Map[*counter] {
	return New(func() *counter { return &counter{} })
}

func TestMutateCreatesState(t *testing.T) {
	m := newCounterMap()

	m.Mutate("alice", func(c *counter) { c.n++ })
	m.Mutate("alice", func(c *counter) { c.n++ })

	var got int
	m.View("alice", func(c *counter, ok bool) {
		require.True(t, ok)
		got = c.n
	})
	assert.Equal(t, 2, got)
}

func TestViewUnknownKey(t *testing.T) {
	m := newCounterMap()

	called := false
	m.View("nobody", func(c *counter, ok bool) {
		called = true
		assert.False(t, ok)
		assert.Nil(t, c)
	})
	assert.True(t, called)
}

func TestDelete(t *testing.T) {
	m := newCounterMap()
	m.Mutate("alice", func(c *counter) { c.n = 7 })
	m.Delete("alice")

	m.View("alice", func(c *counter, ok bool) {
		assert.False(t, ok)
	})
	assert.Empty(t, m.Keys())
}

func TestKeysSorted(t *testing.T) {
	m := newCounterMap()
	for _, k := range []string{"zoe", "alice", "bob"} {
		m.Mutate(k, func(c *counter) {})
	}
	assert.Equal(t, []string{"alice", "bob", "zoe"}, m.Keys())
}

func TestConcurrentUsers(t *testing.T) {
	m := newCounterMap()
	const users = 16
	const increments = 200

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		key := "user-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				m.Mutate(key, func(c *counter) { c.n++ })
			}
		}()
	}
	wg.Wait()

	for i := 0; i < users; i++ {
		key := "user-" + strconv.Itoa(i)
		m.View(key, func(c *counter, ok bool) {
			require.True(t, ok, key)
			assert.Equal(t, increments, c.n, key)
		})
	}
}
