package planner

import "github.com/cuemby/shardbroker/pkg/types"

// CompactLookups is the pure function from spec §4.6: it partitions steps
// into lookup and non-lookup, groups lookups by shard with their ID sets
// unioned (deduplicated, first-seen order preserved), emits one lookup
// step per shard, and leaves non-lookup steps following in original
// order. Empty input yields empty output.
func CompactLookups(steps []types.Step) []types.Step {
	if len(steps) == 0 {
		return nil
	}

	order := make([]types.ShardID, 0)
	ids := make(map[types.ShardID][]string)
	seen := make(map[types.ShardID]map[string]bool)
	var rest []types.Step

	for _, step := range steps {
		if step.Kind != types.StepLookup {
			rest = append(rest, step)
			continue
		}

		if _, ok := ids[step.Shard]; !ok {
			order = append(order, step.Shard)
			ids[step.Shard] = nil
			seen[step.Shard] = make(map[string]bool)
		}
		for _, id := range step.EntityIDs {
			if seen[step.Shard][id] {
				continue
			}
			seen[step.Shard][id] = true
			ids[step.Shard] = append(ids[step.Shard], id)
		}
	}

	out := make([]types.Step, 0, len(order)+len(rest))
	for _, shard := range order {
		out = append(out, types.Step{Kind: types.StepLookup, Shard: shard, EntityIDs: ids[shard]})
	}
	out = append(out, rest...)
	return out
}
