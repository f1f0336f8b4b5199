package substrate

import (
	"strings"
	"sync"

	"github.com/cuemby/shardbroker/pkg/types"
)

// MemSubstrate is an in-process Substrate, the default for a single
// broker instance or for tests. Grounded on the teacher's
// sync.RWMutex-guarded map registry idiom (pkg/worker.go).
type MemSubstrate struct {
	mu   sync.RWMutex
	data map[string]types.CachedResponseRecord
}

// NewMemSubstrate creates an empty in-memory substrate.
func NewMemSubstrate() *MemSubstrate {
	return &MemSubstrate{data: make(map[string]types.CachedResponseRecord)}
}

func (m *MemSubstrate) Get(key string) (types.CachedResponseRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	return rec, ok, nil
}

func (m *MemSubstrate) Put(key string, record types.CachedResponseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}

func (m *MemSubstrate) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemSubstrate) Scan(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemSubstrate) Close() error { return nil }
