package jsonmessenger

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() *Session {
	return newSession(&fakeTransport{}, 0, 0, time.Now())
}

func TestRegistry_AddLookup(t *testing.T) {
	r := NewRegistry()
	s := testSession()

	id := r.Add(s)

	assert.False(t, id.IsZero())
	assert.Equal(t, id, s.ID())
	assert.Equal(t, 1, r.Len())

	got, err := r.Lookup(id)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup(ConnID{})
	assert.True(t, errors.Is(err, ErrUnknownConnection))

	_, err = r.Lookup(ConnID{index: 3, gen: 1})
	assert.True(t, errors.Is(err, ErrUnknownConnection))
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := testSession()
	id := r.Add(s)

	got, ok := r.Remove(id)
	assert.True(t, ok)
	assert.Same(t, s, got)

	got, ok = r.Remove(id)
	assert.False(t, ok)
	assert.Nil(t, got)

	assert.Zero(t, r.Len())
	_, err := r.Lookup(id)
	assert.True(t, errors.Is(err, ErrUnknownConnection))
}

func TestRegistry_StaleHandle(t *testing.T) {
	r := NewRegistry()
	old := r.Add(testSession())
	r.Remove(old)

	s := testSession()
	id := r.Add(s)

	assert.Equal(t, old.index, id.index, "slot should be reused")
	assert.NotEqual(t, old, id)

	_, err := r.Lookup(old)
	assert.True(t, errors.Is(err, ErrUnknownConnection))

	_, ok := r.Remove(old)
	assert.False(t, ok, "stale handle must not remove the new session")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Sessions(t *testing.T) {
	r := NewRegistry()
	a := testSession()
	b := testSession()
	c := testSession()
	r.Add(a)
	idB := r.Add(b)
	r.Add(c)
	r.Remove(idB)

	sessions := r.Sessions()

	assert.ElementsMatch(t, []*Session{a, c}, sessions)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := r.Add(testSession())
				_, err := r.Lookup(id)
				assert.NoError(t, err)
				_, ok := r.Remove(id)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, r.Len())
}

func TestConnID_String(t *testing.T) {
	id := ConnID{index: 4, gen: 2}

	assert.Equal(t, "4.2", id.String())
	text, err := id.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "4.2", string(text))
}
