package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
)

// MemoryBackend keeps objects in memory. It is safe for concurrent use and
// doubles as a Presigner that hands out memory:// URLs.
type MemoryBackend struct {
	name           string
	capacityBytes  uint64
	capacityInodes uint64

	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend(name string, capacityBytes, capacityInodes uint64) *MemoryBackend {
	return &MemoryBackend{
		name:           name,
		capacityBytes:  capacityBytes,
		capacityInodes: capacityInodes,
		objects:        make(map[string][]byte),
	}
}

func (m *MemoryBackend) Name() string { return m.name }

func (m *MemoryBackend) Put(_ context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrObjectNotFound, key)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryBackend) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", common.ErrObjectNotFound, key)
	}
	sum := md5.Sum(data)
	return ObjectInfo{Size: int64(len(data)), MD5: hex.EncodeToString(sum[:])}, nil
}

func (m *MemoryBackend) Usage(_ context.Context) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := Usage{TotalBytes: m.capacityBytes, TotalInodes: m.capacityInodes}
	for _, data := range m.objects {
		u.UsedBytes += uint64(len(data))
		u.UsedInodes++
	}
	return u, nil
}

func (m *MemoryBackend) PresignPut(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.name, key, int64(expiry.Seconds())), nil
}

// Has reports whether key is stored.
func (m *MemoryBackend) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

var (
	_ Backend   = (*MemoryBackend)(nil)
	_ Presigner = (*MemoryBackend)(nil)
)
