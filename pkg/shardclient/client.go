// Package shardclient is the HTTP-like transport to shard RPC endpoints
// (spec §6): GET /lookup, /traverse, /filter. It owns URL construction
// and the bare HTTP round trip; retry, timeout, and circuit-breaker
// policy live one layer up in pkg/executor. Grounded on the shape of
// pkg/health's HTTPChecker — a small struct wrapping an *http.Client with
// a Check-like method that builds a request, executes it, and returns a
// typed result instead of swallowing errors into a bare (*http.Response, error).
package shardclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/shardbroker/pkg/types"
)

// Response is the raw shard reply: status code and body. The caller
// (pkg/executor) is responsible for error-envelope extraction and
// validation.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client dispatches Steps to shard origins over plain HTTP.
type Client struct {
	HTTP *http.Client
}

// New creates a Client with sane defaults. Per-attempt timeouts are
// applied by the caller via context, not by the client's own Timeout
// field, so retries can use fresh per-attempt deadlines.
func New() *Client {
	return &Client{HTTP: &http.Client{}}
}

// Dispatch builds the request URL for step against origin (a shard's
// base HTTP origin, e.g. "http://shard-3.internal:8080") and performs the
// GET request. Returns an error only for transport-level failures
// (DNS, connection refused, context deadline); non-2xx responses are
// returned as a normal Response for the caller to classify.
func (c *Client) Dispatch(ctx context.Context, origin string, step types.Step) (Response, error) {
	u, err := buildURL(origin, step)
	if err != nil {
		return Response{}, fmt.Errorf("build shard request url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("create shard request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read shard response body: %w", err)
	}

	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// buildURL constructs the path+query for a step per spec §6/§4.4:
//
//	lookup:   /lookup?ids=a,b
//	traverse: /traverse?from=x&predicate=p
//	expand:   /traverse?from=x&predicate=p&depth=d
//	filter:   /filter?field=f&op=o&value=v
//
// An unrecognized step kind is a fatal, non-retryable error.
func buildURL(origin string, step types.Step) (string, error) {
	base := strings.TrimRight(origin, "/")

	switch step.Kind {
	case types.StepLookup:
		ids := make([]string, len(step.EntityIDs))
		copy(ids, step.EntityIDs)
		q := url.Values{}
		q.Set("ids", strings.Join(ids, ","))
		return base + "/lookup?" + q.Encode(), nil

	case types.StepTraverse:
		q := url.Values{}
		q.Set("from", stepSourceID(step))
		q.Set("predicate", step.Predicate)
		return base + "/traverse?" + q.Encode(), nil

	case types.StepExpand:
		q := url.Values{}
		q.Set("from", stepSourceID(step))
		q.Set("predicate", step.Predicate)
		q.Set("depth", strconv.Itoa(step.Depth))
		return base + "/traverse?" + q.Encode(), nil

	case types.StepFilter:
		q := url.Values{}
		q.Set("field", step.Field)
		q.Set("op", string(step.Op))
		q.Set("value", valueToString(step.Value))
		return base + "/filter?" + q.Encode(), nil

	default:
		return "", fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func stepSourceID(step types.Step) string {
	if len(step.EntityIDs) > 0 {
		return step.EntityIDs[0]
	}
	return ""
}

func valueToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// WithTimeout returns a context carrying the given per-attempt deadline,
// and the cancel func the caller must defer.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
