package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Package storage contains the object storage abstraction the ingestion
// pipeline writes document bytes to. Implementations stream; nothing touches local disk.

// ErrObjectExists is returned by Put when the key is already occupied.
var ErrObjectExists = errors.New("object already exists")

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is a reusable, S3-compatible object storage client interface.
type Storage interface {
	// Put uploads r under key. It never overwrites: an occupied key yields ErrObjectExists.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Walk calls fn for every object whose key starts with prefix. A non-nil
	// error from fn stops the walk and is returned.
	Walk(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
}
