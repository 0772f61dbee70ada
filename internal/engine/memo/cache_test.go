package memo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/engine/memo"
	"github.com/kode4food/tartan/pkg/api"
)

func TestCacheGetPut(t *testing.T) {
	cache := memo.NewCache(100)

	st := &api.RunState{
		ID:     "run-1",
		Status: api.RunCompleted,
		Result: api.MustValue(42),
	}
	assert.NoError(t, cache.Put(st))

	got, ok := cache.Get("run-1")
	assert.True(t, ok)
	assert.Same(t, st, got)
}

func TestCacheMiss(t *testing.T) {
	cache := memo.NewCache(100)

	_, ok := cache.Get("missing")
	assert.False(t, ok)
}

func TestCacheRefusesActiveRuns(t *testing.T) {
	cache := memo.NewCache(100)

	err := cache.Put(&api.RunState{ID: "live", Status: api.RunRunning})
	assert.ErrorIs(t, err, memo.ErrNotTerminal)

	_, ok := cache.Get("live")
	assert.False(t, ok)
}

func TestCacheMissThenPut(t *testing.T) {
	cache := memo.NewCache(10)

	_, ok := cache.Get("run")
	assert.False(t, ok)

	assert.NoError(t, cache.Put(&api.RunState{
		ID:     "run",
		Status: api.RunFailed,
	}))
	got, ok := cache.Get("run")
	assert.True(t, ok)
	assert.Equal(t, api.RunFailed, got.Status)
}

func TestCacheEviction(t *testing.T) {
	cache := memo.NewCache(2)

	for _, id := range []api.RunID{"a", "b", "c"} {
		assert.NoError(t, cache.Put(&api.RunState{
			ID:     id,
			Status: api.RunCompleted,
		}))
	}

	_, ok := cache.Get("c")
	assert.True(t, ok)
}
