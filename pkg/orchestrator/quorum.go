package orchestrator

import (
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/shardbroker/pkg/brokererr"
	"github.com/cuemby/shardbroker/pkg/types"
)

// quorum implements spec §4.8: group task outputs by $id, bucket each
// id's occurrences by a content hash of its non-$-prefixed fields, and
// keep ids with a bucket reaching q. Grounded on the request-hash-as-
// cache-key idiom in the semantic-cache example (xxhash over a
// normalized representation of the payload) — here the payload is an
// entity's own field set instead of a request body.
func quorum(taskResults [][]types.Entity, q int) ([]types.Entity, error) {
	byID := make(map[string][]types.Entity)
	var order []string

	for _, task := range taskResults {
		for _, ent := range task {
			id := ent.ID()
			if id == "" {
				continue
			}
			if _, seen := byID[id]; !seen {
				order = append(order, id)
			}
			byID[id] = append(byID[id], ent)
		}
	}

	out := make([]types.Entity, 0, len(order))
	for _, id := range order {
		winner, ok := winningBucket(byID[id], q)
		if !ok {
			return nil, brokererr.QuorumFailure("quorum not reached for entity " + id)
		}
		out = append(out, winner)
	}
	return out, nil
}

// winningBucket hashes each copy of an entity by its content and returns
// the representative of the first bucket (in order of first appearance)
// whose count reaches q.
func winningBucket(copies []types.Entity, q int) (types.Entity, bool) {
	counts := make(map[uint64]int)
	reps := make(map[uint64]types.Entity)
	var order []uint64

	for _, ent := range copies {
		h := contentHash(ent)
		counts[h]++
		if _, ok := reps[h]; !ok {
			reps[h] = ent
			order = append(order, h)
		}
	}

	for _, h := range order {
		if counts[h] >= q {
			return reps[h], true
		}
	}
	return nil, false
}

// contentHash hashes an entity's non-$-prefixed fields, sorted by key and
// serialized to JSON, so two structurally identical copies from
// different shards hash identically regardless of map iteration order.
func contentHash(ent types.Entity) uint64 {
	keys := make([]string, 0, len(ent))
	for k := range ent {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, keyValue{Key: k, Value: ent[k]})
	}

	raw, _ := json.Marshal(ordered)
	return xxhash.Sum64(raw)
}

type keyValue struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}
