// Package storage implements the multi-source object-fetch layer: an
// ordered set of backends (object store, signed remote origin,
// unauthenticated fallback origin), each guarded by its own circuit
// breaker and retry policy, with adaptive priority reordering driven
// by a sliding failure window.
package storage

import (
	"context"
	"io"
)

// SourceType identifies which backend served a StorageResult.
type SourceType string

const (
	SourceR2       SourceType = "r2"
	SourceRemote   SourceType = "remote"
	SourceFallback SourceType = "fallback"
)

// Result is the bytes and metadata returned by a successful fetch
// from one of the configured backends.
type Result struct {
	Body        io.ReadCloser
	SourceType  SourceType
	ContentType string
	Size        int64
	Path        string
	Width       int
	Height      int
	Metadata    map[string]string
}

// Source is one storage backend. Implementations classify their own
// errors via apperr so the service can decide retry vs short-circuit
// without backend-specific knowledge.
type Source interface {
	Type() SourceType
	Fetch(ctx context.Context, path string) (Result, error)
}
