package index

import (
	"context"
	"slices"

	"github.com/kode4food/timebox"
	"github.com/redis/go-redis/v9"

	"github.com/kode4food/tartan/pkg/api"
)

// Index tracks the runs that have started but not yet reached a terminal
// state. Engine startup walks it to find the runs it must re-drive
type Index struct {
	client *redis.Client
	key    string
}

const activeRunsSuffix = ":active-runs"

// New connects to the Redis instance described by the store config. The
// index lives beside the ledger under the same key prefix
func New(cfg timebox.StoreConfig) *Index {
	return &Index{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		key: cfg.Prefix + activeRunsSuffix,
	}
}

// Add marks a run as active
func (x *Index) Add(ctx context.Context, id api.RunID) error {
	return x.client.SAdd(ctx, x.key, string(id)).Err()
}

// Remove marks a run as no longer active
func (x *Index) Remove(ctx context.Context, id api.RunID) error {
	return x.client.SRem(ctx, x.key, string(id)).Err()
}

// Contains reports whether the run is marked active
func (x *Index) Contains(ctx context.Context, id api.RunID) (bool, error) {
	return x.client.SIsMember(ctx, x.key, string(id)).Result()
}

// List returns every active run, parents ahead of their children
func (x *Index) List(ctx context.Context) ([]api.RunID, error) {
	members, err := x.client.SMembers(ctx, x.key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(members)
	res := make([]api.RunID, len(members))
	for i, m := range members {
		res[i] = api.RunID(m)
	}
	return res, nil
}

// Count returns the number of active runs
func (x *Index) Count(ctx context.Context) (int, error) {
	n, err := x.client.SCard(ctx, x.key).Result()
	return int(n), err
}

// Ping checks connectivity to Redis
func (x *Index) Ping(ctx context.Context) error {
	return x.client.Ping(ctx).Err()
}

// Close releases the Redis connection
func (x *Index) Close() error {
	return x.client.Close()
}
