package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutHasRemove(t *testing.T) {
	r := New[int]()

	assert.False(t, r.Has("/topic/a"))

	r.Put("/topic/a", 1)
	assert.True(t, r.Has("/topic/a"))
	assert.Equal(t, 1, r.Len())

	h, ok := r.Get("/topic/a")
	require.True(t, ok)
	assert.Equal(t, 1, h)

	h, ok = r.Remove("/topic/a")
	require.True(t, ok)
	assert.Equal(t, 1, h)
	assert.False(t, r.Has("/topic/a"))
}

func TestRegistry_RemoveAbsent(t *testing.T) {
	r := New[string]()

	h, ok := r.Remove("/topic/missing")
	assert.False(t, ok)
	assert.Equal(t, "", h)
}

func TestRegistry_PutReplaces(t *testing.T) {
	r := New[string]()
	r.Put("/topic/a", "old")
	r.Put("/topic/a", "new")

	assert.Equal(t, 1, r.Len())
	h, _ := r.Get("/topic/a")
	assert.Equal(t, "new", h)
}

func TestRegistry_PutIfAbsent(t *testing.T) {
	r := New[string]()

	assert.True(t, r.PutIfAbsent("/topic/a", "first"))
	assert.False(t, r.PutIfAbsent("/topic/a", "second"))

	h, ok := r.Get("/topic/a")
	require.True(t, ok)
	assert.Equal(t, "first", h)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_KeysSnapshot(t *testing.T) {
	r := New[int]()
	r.Put("/topic/c", 3)
	r.Put("/topic/a", 1)
	r.Put("/topic/b", 2)

	keys := r.Keys()
	assert.Equal(t, []string{"/topic/a", "/topic/b", "/topic/c"}, keys)

	// Mutating while ranging over the snapshot must not affect it.
	for _, k := range keys {
		r.Remove(k)
	}
	assert.Len(t, keys, 3)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[int]()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				dest := fmt.Sprintf("/topic/%d/%d", w, i)
				r.Put(dest, i)
				_ = r.Has(dest)
				_ = r.Keys()
				if i%2 == 0 {
					r.Remove(dest)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 8*100, r.Len())
}
