package repository

import "errors"

// ErrStaleWrite signals that a guarded write matched no row because a concurrent writer got there first.
var ErrStaleWrite = errors.New("stale write: row changed since it was read")

// ErrEntityMissing signals that the targeted entity row does not exist.
var ErrEntityMissing = errors.New("entity not found")

// ErrReferenceMissing signals that a written value points at a row that does not exist.
var ErrReferenceMissing = errors.New("referenced record not found")

// ErrValueRequired signals that a NOT NULL column was given no value.
var ErrValueRequired = errors.New("value is required")
