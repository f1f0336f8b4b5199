package orchestrator

import (
	"strconv"

	"github.com/cuemby/shardbroker/pkg/types"
)

// dedupe implements spec §4.9: group entities by $id. With no field,
// keep the first-seen copy. With a numeric field and preferNewer, keep
// the greater (or smaller, when !preferNewer) value; non-numeric or
// absent values on either side keep the existing copy.
func dedupe(entities []types.Entity, field string, preferNewer bool) []types.Entity {
	order := make([]string, 0, len(entities))
	kept := make(map[string]types.Entity, len(entities))

	for _, ent := range entities {
		id := ent.ID()
		if id == "" {
			order = append(order, syntheticKey(len(order)))
			kept[order[len(order)-1]] = ent
			continue
		}

		existing, seen := kept[id]
		if !seen {
			order = append(order, id)
			kept[id] = ent
			continue
		}

		if field == "" {
			continue // keep first-seen
		}

		newVal, newOK := asFloat(ent[field])
		oldVal, oldOK := asFloat(existing[field])
		if !newOK || !oldOK {
			continue // keep existing
		}

		better := newVal > oldVal
		if !preferNewer {
			better = newVal < oldVal
		}
		if better {
			kept[id] = ent
		}
	}

	out := make([]types.Entity, 0, len(order))
	for _, id := range order {
		out = append(out, kept[id])
	}
	return out
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// syntheticKey gives entities without an $id a unique dedup key so they
// pass through unmerged rather than colliding on "".
func syntheticKey(i int) string {
	return "\x00synthetic\x00" + strconv.Itoa(i)
}
