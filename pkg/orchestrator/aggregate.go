package orchestrator

import "github.com/cuemby/shardbroker/pkg/types"

// aggregate implements spec §4.11: collect numeric values of field across
// entities and reduce them per agg.Type. An empty collection yields 0.
func aggregate(entities []types.Entity, agg types.Aggregation) float64 {
	values := make([]float64, 0, len(entities))
	for _, ent := range entities {
		if v, ok := asFloat(ent[agg.Field]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0
	}

	switch agg.Type {
	case types.AggCount:
		return float64(len(values))
	case types.AggSum:
		return sum(values)
	case types.AggAvg:
		return sum(values) / float64(len(values))
	case types.AggMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case types.AggMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	default:
		return 0
	}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
