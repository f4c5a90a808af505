// Package repository contains data access layer abstractions.
// Implementations live in subpackages (e.g., postgres) inside this directory.
package repository

import "errors"

var (
	// ErrNotFound is returned when no row matches the lookup for the given owner.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicatePath is returned when a row already claims the storage path.
	ErrDuplicatePath = errors.New("file path already recorded")
)
