// Package checkset defines the per-namespace GC worklist: a durable ordered set mapping
// candidate blob ids to a check score. Lower scores are checked first.
package checkset

import (
	"context"

	"github.com/bsv-blockchain/blobstore/model"
)

type Entry struct {
	ID    model.BlobID
	Score float64
}

type Store interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	// Add inserts the entries, overwriting the score of ids already present.
	Add(ctx context.Context, namespaceID string, entries ...Entry) error
	// AddNX inserts only the ids that are not present yet.
	AddNX(ctx context.Context, namespaceID string, entries ...Entry) error
	// Range returns up to limit entries with the lowest scores, ascending.
	Range(ctx context.Context, namespaceID string, limit int) ([]Entry, error)
	Len(ctx context.Context, namespaceID string) (int64, error)
	// CompareAndRemove removes id only while its score still equals score.
	CompareAndRemove(ctx context.Context, namespaceID string, id model.BlobID, score float64) (bool, error)
	Close() error
}

// Key is the name of the ordered set backing a namespace.
func Key(namespaceID string) string {
	return "storage:" + namespaceID + ":check"
}
