// Package storage keeps odometer photos in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInvalidKey rejects empty keys and keys that walk out of their prefix.
var ErrInvalidKey = errors.New("invalid object key")

// ObjectStore writes objects without ever replacing one; an existing key
// fails with model.ErrConflict.
type ObjectStore interface {
	PutNew(ctx context.Context, key, contentType string, body io.Reader, size int64) error
}

func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}

type Object struct {
	ContentType string
	Data        []byte
}

// MemoryStore is used when no S3 endpoint is configured.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]Object{}}
}

func (m *MemoryStore) PutNew(_ context.Context, key, contentType string, body io.Reader, _ int64) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return conflict(key)
	}
	m.objects[key] = Object{ContentType: contentType, Data: data}
	return nil
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}
