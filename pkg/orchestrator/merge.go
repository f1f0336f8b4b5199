package orchestrator

import (
	"sort"

	"github.com/cuemby/shardbroker/pkg/types"
)

// applyMergeStrategy combines per-step result sets per spec §4.7's merge
// strategy bullets. results is in original step order.
//
// Quorum is a consistency mode (§4.8: consistency=quorum, quorum_size), not
// a merge_strategy value — §6's merge_strategy enum is only
// {union, intersection, ordered, deduplicate} — so it's checked ahead of
// the MergeStrategy switch rather than as one of its cases.
func applyMergeStrategy(results [][]types.Entity, opts types.Options) ([]types.Entity, error) {
	if opts.Consistency == types.ConsistencyQuorum || opts.QuorumSize > 0 {
		q := opts.QuorumSize
		if q <= 0 {
			q = 1
		}
		return quorum(results, q)
	}

	switch opts.MergeStrategy {
	case types.MergeIntersection:
		return intersectionMerge(results), nil
	case types.MergeOrdered:
		return orderedMerge(results, opts.OrderBy, opts.OrderDirection), nil
	case types.MergeDeduplicate:
		return flatten(results), nil
	default:
		return unionMerge(results, opts.PreserveOrder), nil
	}
}

func flatten(results [][]types.Entity) []types.Entity {
	var out []types.Entity
	for _, set := range results {
		out = append(out, set...)
	}
	return out
}

// unionMerge is the default merge: union by $id, first-seen wins. With
// preserve_order, results are just concatenated without deduping.
func unionMerge(results [][]types.Entity, preserveOrder bool) []types.Entity {
	flat := flatten(results)
	if preserveOrder {
		return flat
	}
	return dedupe(flat, "", false)
}

// intersectionMerge keeps entities whose $id appears in every result set
// (so one empty set empties the result), in first-seen order.
func intersectionMerge(results [][]types.Entity) []types.Entity {
	if len(results) == 0 {
		return nil
	}

	counts := make(map[string]int)
	reps := make(map[string]types.Entity)
	for _, set := range results {
		seenInSet := make(map[string]bool)
		for _, ent := range set {
			id := ent.ID()
			if id == "" || seenInSet[id] {
				continue
			}
			seenInSet[id] = true
			counts[id]++
			if _, ok := reps[id]; !ok {
				reps[id] = ent
			}
		}
	}

	n := len(results)
	seen := make(map[string]bool)
	var out []types.Entity
	for _, set := range results {
		for _, ent := range set {
			id := ent.ID()
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if counts[id] == n {
				out = append(out, reps[id])
			}
		}
	}
	return out
}

// orderedMerge flattens, dedupes by $id (first seen), then sorts by
// field with a numeric compare when both sides are numbers, else a
// lexicographic one.
func orderedMerge(results [][]types.Entity, field string, dir types.OrderDirection) []types.Entity {
	deduped := dedupe(flatten(results), "", false)

	sort.SliceStable(deduped, func(i, j int) bool {
		less := compareField(deduped[i][field], deduped[j][field])
		if dir == types.OrderDesc {
			return !less
		}
		return less
	})
	return deduped
}

func compareField(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af < bf
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return as < bs
}
