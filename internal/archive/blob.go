package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/tartan/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// Archiver writes terminal runs to a gocloud.dev/blob bucket. S3, GCS,
	// Azure Blob Storage, local files, and in-memory buckets are supported
	Archiver struct {
		bucket *blob.Bucket
		prefix string
	}

	// Record is the archived form of a run: its final projected state and
	// the ledger events it was projected from
	Record struct {
		ArchivedAt time.Time        `json:"archived_at"`
		State      *api.RunState    `json:"state"`
		Events     []*timebox.Event `json:"events,omitempty"`
	}
)

const recordSuffix = ".json"

var (
	ErrNotFound     = errors.New("archived run not found")
	ErrRecordNoRun  = errors.New("archive record has no run state")
	ErrRunNotClosed = errors.New("run is not terminal")
)

// Open opens the bucket at bucketURL. Keys are written beneath prefix
func Open(ctx context.Context, bucketURL, prefix string) (*Archiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &Archiver{bucket: bucket, prefix: prefix}, nil
}

// Put stores the record under its run ID, replacing any previous copy
func (a *Archiver) Put(ctx context.Context, rec *Record) error {
	if rec.State == nil {
		return ErrRecordNoRun
	}
	if !rec.State.Status.IsTerminal() {
		return ErrRunNotClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(rec.State.ID), data, nil)
}

// Get returns the archived record for a run
func (a *Archiver) Get(ctx context.Context, id api.RunID) (*Record, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes an archived run. Missing runs are not an error
func (a *Archiver) Delete(ctx context.Context, id api.RunID) error {
	err := a.bucket.Delete(ctx, a.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close releases the bucket
func (a *Archiver) Close() error {
	return a.bucket.Close()
}

// Child run IDs nest beneath their parent's directory
func (a *Archiver) keyFor(id api.RunID) string {
	return a.prefix + strings.ReplaceAll(string(id), ":", "/") + recordSuffix
}
