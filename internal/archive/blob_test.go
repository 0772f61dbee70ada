package archive_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/archive"
	"github.com/kode4food/tartan/pkg/api"
)

func TestArchiver(t *testing.T) {
	ctx := context.Background()

	a, err := archive.Open(ctx, "mem://", "runs/")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()

	st := &api.RunState{
		ID:     "run-1",
		Flow:   "greet",
		Status: api.RunCompleted,
		Result: api.MustValue("hello"),
	}

	t.Run("get_missing", func(t *testing.T) {
		_, err := a.Get(ctx, "run-1")
		assert.ErrorIs(t, err, archive.ErrNotFound)
	})

	t.Run("put_and_get", func(t *testing.T) {
		err := a.Put(ctx, &archive.Record{
			ArchivedAt: time.Now(),
			State:      st,
			Events: []*timebox.Event{
				{
					Type: timebox.EventType(api.EventTypeRunStarted),
					Data: json.RawMessage(`{"run_id":"run-1"}`),
				},
			},
		})
		assert.NoError(t, err)

		got, err := a.Get(ctx, "run-1")
		assert.NoError(t, err)
		assert.Equal(t, api.RunCompleted, got.State.Status)
		assert.JSONEq(t, `"hello"`, got.State.Result.String())
		assert.Len(t, got.Events, 1)
	})

	t.Run("delete", func(t *testing.T) {
		assert.NoError(t, a.Delete(ctx, "run-1"))
		_, err := a.Get(ctx, "run-1")
		assert.ErrorIs(t, err, archive.ErrNotFound)
		assert.NoError(t, a.Delete(ctx, "run-1"))
	})
}

func TestArchiverChildKeys(t *testing.T) {
	ctx := context.Background()

	a, err := archive.Open(ctx, "mem://", "")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()

	child := &api.RunState{
		ID:          "parent:spawn:1",
		ParentRunID: "parent",
		Status:      api.RunFailed,
		Error:       "boom",
	}
	assert.NoError(t, a.Put(ctx, &archive.Record{State: child}))

	got, err := a.Get(ctx, "parent:spawn:1")
	assert.NoError(t, err)
	assert.Equal(t, api.RunID("parent"), got.State.ParentRunID)
}

func TestArchiverRejects(t *testing.T) {
	ctx := context.Background()

	a, err := archive.Open(ctx, "mem://", "")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()

	err = a.Put(ctx, &archive.Record{})
	assert.ErrorIs(t, err, archive.ErrRecordNoRun)

	err = a.Put(ctx, &archive.Record{
		State: &api.RunState{ID: "live", Status: api.RunRunning},
	})
	assert.ErrorIs(t, err, archive.ErrRunNotClosed)
}

func TestOpenBadURL(t *testing.T) {
	_, err := archive.Open(context.Background(), "nope://bucket", "")
	assert.Error(t, err)
}
