// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a guarded update did not apply because the entity's
// state was changed by another writer.
var ErrConflict = errors.New("conflict: state changed by another writer")
