// Package objectstore provides key-addressed JSON document storage backed by
// a MinIO/S3 bucket, with an in-memory implementation for tests.
//
// Documents are written either unconditionally or through a compare-and-swap
// on an opaque revision token (the bucket ETag for MinIO). Conditional writes
// are what lets concurrent read-modify-write callers detect lost updates.
package objectstore

import "errors"

// Common errors
var (
	// ErrNotFound indicates no document exists at the requested key.
	ErrNotFound = errors.New("object not found")

	// ErrRevisionMismatch indicates a conditional write lost a race: the
	// document changed since the revision the caller read. Callers are
	// expected to re-fetch and retry.
	ErrRevisionMismatch = errors.New("object revision mismatch")
)
