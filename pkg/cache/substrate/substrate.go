// Package substrate is the storage layer beneath pkg/cache: an
// HTTP-like key/value store keyed by cache key. Grounded on the
// teacher's pkg/storage.Store interface — swap its per-entity-type CRUD
// methods for a single Get/Put/Delete/Scan surface, since the cache has
// one entity shape (a cached response record) instead of nine.
package substrate

import "github.com/cuemby/shardbroker/pkg/types"

// Substrate is the storage contract pkg/cache depends on. MemSubstrate
// and BoltSubstrate both implement it.
type Substrate interface {
	Get(key string) (types.CachedResponseRecord, bool, error)
	Put(key string, record types.CachedResponseRecord) error
	Delete(key string) error
	Scan(prefix string) ([]string, error)
	Close() error
}
