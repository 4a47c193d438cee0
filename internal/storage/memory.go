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
)

// MemoryStore is an in-process ObjectStore used when no S3 endpoint is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	body []byte
	info ObjectInfo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: map[string]memoryObject{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ PutOptions) (ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read object body: %w", err)
	}
	sum := md5.Sum(payload)
	info := ObjectInfo{
		Key:          key,
		Size:         int64(len(payload)),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: m.now(),
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{body: payload, info: info}
	m.mu.Unlock()
	return info, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	object, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(object.body)), nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	object, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return object.info, nil
}

func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}
