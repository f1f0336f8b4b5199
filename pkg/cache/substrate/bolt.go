package substrate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/shardbroker/pkg/types"
)

var bucketCacheEntries = []byte("cache_entries")

// BoltSubstrate is a bbolt-backed Substrate for a single broker instance
// that wants its edge cache to survive a restart. Grounded directly on
// the teacher's BoltStore: one bucket, JSON-marshaled values keyed by
// string ID, CreateBucketIfNotExists at open time.
type BoltSubstrate struct {
	db *bolt.DB
}

// NewBoltSubstrate opens (creating if needed) a bbolt-backed cache
// substrate under dataDir.
func NewBoltSubstrate(dataDir string) (*BoltSubstrate, error) {
	dbPath := filepath.Join(dataDir, "shardbroker-cache.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCacheEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSubstrate{db: db}, nil
}

func (s *BoltSubstrate) Get(key string) (types.CachedResponseRecord, bool, error) {
	var record types.CachedResponseRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCacheEntries)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &record)
	})
	return record, found, err
}

func (s *BoltSubstrate) Put(key string, record types.CachedResponseRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCacheEntries)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltSubstrate) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCacheEntries)
		return b.Delete([]byte(key))
	})
}

func (s *BoltSubstrate) Scan(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCacheEntries)
		return b.ForEach(func(k, v []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}

func (s *BoltSubstrate) Close() error {
	return s.db.Close()
}
