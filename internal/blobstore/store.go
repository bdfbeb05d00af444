// Package blobstore persists whole JSON documents under logical paths.
//
// Every document carries an opaque version token. Writers hand back the
// version they read; a store refuses the write when the document has moved
// on since, which is the only concurrency control the ledger relies on.
package blobstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for a missing path and by Put when an
	// update targets a path that does not exist.
	ErrNotFound = errors.New("blobstore: document not found")

	// ErrVersionConflict is returned by Put when the stored version differs
	// from the expected one, or when a create finds the path taken.
	ErrVersionConflict = errors.New("blobstore: version conflict")
)

// Document is a stored blob and the version it was read at.
type Document struct {
	Data    []byte
	Version string
}

// Store is the blob store contract.
//
// Put with an empty expectedVersion creates the document and fails with
// ErrVersionConflict if it already exists. A non-empty expectedVersion
// updates the document only if it is still at that version. The message
// labels the write the way a commit message does.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	Put(ctx context.Context, path string, data []byte, expectedVersion, message string) (string, error)
}
