// Package artifact persists generated and uploaded binary content.
// Version numbers are monotonic per name and owned by the store; name and
// version bookkeeping for display lives in the ledger package.
package artifact

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("artifact: not found")

// Blob is binary content plus its MIME type.
type Blob struct {
	MIME string
	Data []byte
}

// Store saves and loads blobs by name. Save returns the new version number
// for the name, starting at 1 and increasing by 1 per save. Load returns
// the most recent version, or ErrNotFound.
type Store interface {
	Save(ctx context.Context, name string, blob Blob) (int, error)
	Load(ctx context.Context, name string) (Blob, error)
	List(ctx context.Context) ([]string, error)
}
