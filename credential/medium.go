package credential

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrKeyNotFound is returned by a Medium when the key has no value.
	ErrKeyNotFound = errors.New("key not found")
	// ErrStorageUnavailable indicates the persistence medium could not be used.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Medium is the key/value persistence backend behind a Store.
type Medium interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// BatchSetter is implemented by media that can write several keys as one
// unit. A Store prefers it when saving a pair.
type BatchSetter interface {
	SetMany(ctx context.Context, values map[string]string) error
}

// MemoryMedium keeps values in process memory.
type MemoryMedium struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryMedium returns an empty in-memory medium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{values: make(map[string]string)}
}

func (m *MemoryMedium) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (m *MemoryMedium) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryMedium) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}
