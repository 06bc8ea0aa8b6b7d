package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hydroforecast/apiserver/types"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// Archiver writes cleared tank logs to object storage as JSON documents so
// bulk-clear does not silently discard history.
type Archiver struct {
	backend ObjectStorage
}

// NewArchiver constructs an Archiver for the provided backend.
func NewArchiver(backend ObjectStorage) *Archiver {
	return &Archiver{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	return a.backend.EnsureBucket(ctx)
}

// ArchiveLogs stores the logs under tanklogs/<tankID>/<timestamp>.json and
// returns the object key.
func (a *Archiver) ArchiveLogs(ctx context.Context, tankID int, logs []types.TankLog) (string, error) {
	doc := archiveDocument{
		TankID:     tankID,
		ArchivedAt: time.Now().UTC(),
		Count:      len(logs),
		Logs:       logs,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("tanklogs/%d/%s.json", tankID, doc.ArchivedAt.Format("20060102T150405Z"))
	if err := a.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Open returns a reader for a previously archived document.
func (a *Archiver) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return a.backend.Get(ctx, key)
}

// Bucket returns the configured bucket name.
func (a *Archiver) Bucket() string {
	return a.backend.Bucket()
}

type archiveDocument struct {
	TankID     int             `json:"tank_id"`
	ArchivedAt time.Time       `json:"archived_at"`
	Count      int             `json:"count"`
	Logs       []types.TankLog `json:"logs"`
}
