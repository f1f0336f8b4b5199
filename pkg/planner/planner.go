// Package planner compiles the broker's restricted Cypher-like DSL into a
// types.Plan (spec §4.5) and compacts plans before dispatch (§4.6).
// Grounded on the teacher's config-parsing style (plain regexp/strings
// scanning, no parser-combinator or grammar library anywhere in the
// pack) — the DSL's extraction rules are a fixed, small grammar that a
// hand-rolled set of regexes expresses more directly than a generic
// parser library would.
package planner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/shardbroker/pkg/brokererr"
	"github.com/cuemby/shardbroker/pkg/router"
	"github.com/cuemby/shardbroker/pkg/types"
)

const defaultShard = types.ShardID("shard-0")

var (
	matchKeyword  = regexp.MustCompile(`(?i)\bMATCH\b`)
	returnKeyword = regexp.MustCompile(`(?i)\bRETURN\b`)

	singleID = regexp.MustCompile(`\$id\s*[:=]\s*"([^"]+)"`)
	batchID  = regexp.MustCompile(`(?i)\$id\s+IN\s*\[([^\]]*)\]`)
	inClause = regexp.MustCompile(`(?i)\bIN\s*\[`)
	hop      = regexp.MustCompile(`-\[:(\w+)(\*(\d+)\.\.(\d+))?\]->`)
	filter   = regexp.MustCompile(`(?i)WHERE\s+(\w+)\.(\w+)\s*(>=|<=|!=|>|<|=)\s*("(?:[^"]*)"|-?[0-9]+(?:\.[0-9]+)?)`)
	quoted   = regexp.MustCompile(`"([^"]*)"`)
)

// BuildPlan compiles query into a Plan per spec §4.5.
func BuildPlan(query string) (types.Plan, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return types.Plan{}, brokererr.Validation("query is empty")
	}

	var missing []string
	if !matchKeyword.MatchString(trimmed) {
		missing = append(missing, "MATCH")
	}
	if !returnKeyword.MatchString(trimmed) {
		missing = append(missing, "RETURN")
	}
	if len(missing) > 0 {
		return types.Plan{}, brokererr.Validation("missing required clause(s): " + strings.Join(missing, ", "))
	}

	var steps []types.Step
	var cost float64

	if m := singleID.FindStringSubmatch(trimmed); m != nil {
		id := m[1]
		shard, err := shardFor(id)
		if err != nil {
			return types.Plan{}, err
		}
		steps = append(steps, types.Step{Kind: types.StepLookup, Shard: shard, EntityIDs: []string{id}})
		cost += 1
	}

	canBatch := inClause.MatchString(trimmed)
	if m := batchID.FindStringSubmatch(trimmed); m != nil {
		ids := extractQuoted(m[1])
		batchSteps, err := batchByShard(ids)
		if err != nil {
			return types.Plan{}, err
		}
		steps = append(steps, batchSteps...)
		cost += 0.5 * float64(len(ids))
	}

	plainHops, boundedSteps, boundedCost := extractHops(trimmed)
	cost += boundedCost

	for _, bs := range boundedSteps {
		replaced := false
		for i := range steps {
			if steps[i].Kind == types.StepTraverse && steps[i].Predicate == bs.Predicate {
				steps[i] = bs
				replaced = true
				break
			}
		}
		if !replaced {
			steps = append(steps, bs)
		}
	}

	if len(plainHops) >= 1 {
		shard := defaultShard
		if len(steps) > 0 {
			shard = steps[len(steps)-1].Shard
		}
		steps = append(steps, types.Step{Kind: types.StepTraverse, Shard: shard, Predicate: plainHops[0]})
		cost += 2
	}
	if len(plainHops) >= 2 {
		shard := defaultShard
		if len(steps) > 0 {
			shard = steps[len(steps)-1].Shard
		}
		steps = append(steps, types.Step{Kind: types.StepExpand, Shard: shard, Predicate: plainHops[1], Depth: 1})
		cost += 3
	}

	if m := filter.FindStringSubmatch(trimmed); m != nil {
		field := m[2]
		op := types.FilterOp(m[3])
		literal := parseLiteral(m[4])
		shard := defaultShard
		if len(steps) > 0 {
			shard = steps[len(steps)-1].Shard
		}
		steps = append(steps, types.Step{Kind: types.StepFilter, Shard: shard, Field: field, Op: op, Value: literal})
		cost += 1
	}

	if len(steps) == 0 {
		steps = append(steps, types.Step{Kind: types.StepLookup, Shard: defaultShard})
		cost = 1
	}

	return types.Plan{Steps: steps, EstimatedCost: cost, CanBatch: canBatch}, nil
}

func shardFor(entityID string) (types.ShardID, error) {
	route, err := router.RouteEntity(entityID)
	if err != nil {
		return "", brokererr.Validation("cannot route entity id " + entityID + ": " + err.Error())
	}
	return route.ShardID, nil
}

// batchByShard groups entity IDs by shard and emits one lookup step per
// shard, in first-seen shard order.
func batchByShard(ids []string) ([]types.Step, error) {
	order := make([]types.ShardID, 0)
	byShard := make(map[types.ShardID][]string)

	for _, id := range ids {
		shard, err := shardFor(id)
		if err != nil {
			return nil, err
		}
		if _, seen := byShard[shard]; !seen {
			order = append(order, shard)
		}
		byShard[shard] = append(byShard[shard], id)
	}

	steps := make([]types.Step, 0, len(order))
	for _, shard := range order {
		steps = append(steps, types.Step{Kind: types.StepLookup, Shard: shard, EntityIDs: byShard[shard]})
	}
	return steps, nil
}

// extractHops walks every -[:rel]-> / -[:rel*min..max]-> occurrence in
// text order, splitting bounded-expansion hops (returned as ready-made
// Steps, since they may replace a prior traverse step) from plain hops
// (returned as predicate names, since rules 3/5 decide their shard after
// the fact).
func extractHops(query string) (plainHops []string, boundedSteps []types.Step, cost float64) {
	for _, m := range hop.FindAllStringSubmatch(query, -1) {
		predicate := m[1]
		if m[2] == "" {
			plainHops = append(plainHops, predicate)
			continue
		}
		max, err := strconv.Atoi(m[4])
		if err != nil {
			continue
		}
		boundedSteps = append(boundedSteps, types.Step{Kind: types.StepExpand, Predicate: predicate, Depth: max})
		cost += 3 * float64(max)
	}
	return plainHops, boundedSteps, cost
}

func extractQuoted(s string) []string {
	matches := quoted.FindAllStringSubmatch(s, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// parseLiteral parses a filter literal: a double-quoted string stays a
// string; anything else is parsed as a number, falling back to the raw
// token if it doesn't parse.
func parseLiteral(token string) interface{} {
	if strings.HasPrefix(token, `"`) && strings.HasSuffix(token, `"`) {
		return strings.Trim(token, `"`)
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f
	}
	return token
}
