package memo

import (
	"errors"

	"github.com/kode4food/lru"

	"github.com/kode4food/tartan/pkg/api"
)

// Cache holds runs that have reached a terminal state. Terminal runs never
// change again, so their projections can be served without a store read
type Cache struct {
	cache *lru.Cache[*api.RunState]
}

var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrNotTerminal = errors.New("run is not terminal")
)

// NewCache creates a terminal run cache with the specified maximum size
func NewCache(maxSize int) *Cache {
	return &Cache{
		cache: lru.NewCache[*api.RunState](max(maxSize, 1)),
	}
}

// Get returns the cached terminal state of a run
func (c *Cache) Get(id api.RunID) (*api.RunState, bool) {
	res, err := c.cache.Get(string(id), func() (*api.RunState, error) {
		return nil, ErrCacheMiss
	})
	if err != nil {
		return nil, false
	}
	return res, true
}

// Put caches a terminal run. Runs still in progress are refused
func (c *Cache) Put(st *api.RunState) error {
	if !st.Status.IsTerminal() {
		return ErrNotTerminal
	}
	_, err := c.cache.Get(string(st.ID), func() (*api.RunState, error) {
		return st, nil
	})
	return err
}
