package types

import "time"

// Entity is an opaque JSON object forwarded from a shard. It carries at
// minimum $id, $type, $context; everything else is domain data reached
// into by string key for aggregation, dedupe, and ordering.
type Entity map[string]interface{}

// ID returns the entity's $id field, or "" if absent or non-string.
func (e Entity) ID() string {
	v, _ := e["$id"].(string)
	return v
}

// Namespace is a URL prefix (host + first path segment) derived from an
// entity ID. It is the unit of shard placement.
type Namespace string

// ShardID is a stable identifier of the form "shard-<bucket>-<hex>".
type ShardID string

// StepKind identifies the kind of operation a Step performs.
type StepKind string

const (
	StepLookup   StepKind = "lookup"
	StepTraverse StepKind = "traverse"
	StepFilter   StepKind = "filter"
	StepExpand   StepKind = "expand"
)

// FilterOp is one of the comparison operators recognized by a filter step.
type FilterOp string

const (
	FilterEq  FilterOp = "="
	FilterNeq FilterOp = "!="
	FilterGt  FilterOp = ">"
	FilterLt  FilterOp = "<"
	FilterGte FilterOp = ">="
	FilterLte FilterOp = "<="
)

// Step is one indivisible shard-side operation in a Plan.
type Step struct {
	Kind  StepKind
	Shard ShardID

	// lookup
	EntityIDs []string

	// traverse / expand
	Predicate string
	Depth     int // expand only; >= 1

	// filter
	Field string
	Op    FilterOp
	Value interface{} // string or float64 after literal parse
}

// Plan is an ordered sequence of Steps produced by the planner.
type Plan struct {
	Steps         []Step
	EstimatedCost float64
	CanBatch      bool
}

// Stats accompanies every QueryResult.
type Stats struct {
	QueryID          string
	ShardQueries     int
	EntitiesScanned  int
	Duration         time.Duration
	AggregatedValue  *float64
	ShardLatencies   map[ShardID]time.Duration
	PartialFailure   bool
	FailedShards     []ShardID
	Errors           []StatError
}

// StatError records one shard-level failure captured under partial-results mode.
type StatError struct {
	ShardID ShardID
	Code    string
	Message string
}

// QueryResult is the output of orchestrate_query.
type QueryResult struct {
	Entities []Entity
	Cursor   string // opaque, empty when HasMore is false
	HasMore  bool
	Stats    Stats
}

// Cursor is the decoded form of the opaque pagination cursor: a single
// non-negative integer offset.
type Cursor struct {
	Offset int `json:"offset"`
}

// BreakerState is the lifecycle state of a per-shard circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerRecord is the process-wide state tracked for one shard.
type BreakerRecord struct {
	Failures        int
	State           BreakerState
	LastFailureTime time.Time
}

// CachedResponseRecord is the value stored by the edge cache substrate.
type CachedResponseRecord struct {
	Data         []byte
	CachedAt     time.Time
	CacheControl string
	CacheTags    []string
	Version      string
	Optimistic   bool
}

// MergeStrategy selects how the orchestrator combines per-step results in
// the parallel cross-shard path.
type MergeStrategy string

const (
	MergeUnion        MergeStrategy = "union"
	MergeIntersection MergeStrategy = "intersection"
	MergeOrdered      MergeStrategy = "ordered"
	MergeDeduplicate  MergeStrategy = "deduplicate"
)

// Consistency selects the read-path consistency behavior of an
// orchestrate_query call.
type Consistency string

const (
	ConsistencyEventual       Consistency = "eventual"
	ConsistencyReadYourWrites Consistency = "read-your-writes"
	ConsistencyQuorum         Consistency = "quorum"
)

// AggregationType is the scalar reduction computed over a field.
type AggregationType string

const (
	AggSum   AggregationType = "sum"
	AggAvg   AggregationType = "avg"
	AggMin   AggregationType = "min"
	AggMax   AggregationType = "max"
	AggCount AggregationType = "count"
)

// Aggregation configures §4.11 scalar aggregation.
type Aggregation struct {
	Type  AggregationType
	Field string
}

// OrderDirection is the sort direction for the "ordered" merge strategy.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// Options carries every configuration flag orchestrate_query recognizes (§6).
type Options struct {
	Cursor      string
	Limit       int
	Parallel    bool
	Broadcast   bool

	MaxConcurrency   int
	PreserveOrder    bool
	MergeStrategy    MergeStrategy
	OrderBy          string
	OrderDirection   OrderDirection
	Deduplicate      bool
	DeduplicateBy    string
	PreferNewer      bool

	Consistency      Consistency
	AwaitPendingWrite bool
	QuorumSize       int

	Aggregation      *Aggregation
	EarlyTermination bool

	TrackShardHealth     bool
	UseReplicaOnFailure  bool
	ReplicaShards        map[ShardID]ShardID

	AllowPartialResults bool
	TotalTimeoutMs      int
}
