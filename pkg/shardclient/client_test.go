package shardclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/shardbroker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		step types.Step
		want string
	}{
		{
			name: "lookup",
			step: types.Step{Kind: types.StepLookup, EntityIDs: []string{"a", "b"}},
			want: "http://shard/lookup?ids=a%2Cb",
		},
		{
			name: "traverse",
			step: types.Step{Kind: types.StepTraverse, EntityIDs: []string{"x"}, Predicate: "knows"},
			want: "http://shard/traverse?from=x&predicate=knows",
		},
		{
			name: "expand",
			step: types.Step{Kind: types.StepExpand, EntityIDs: []string{"x"}, Predicate: "knows", Depth: 3},
			want: "http://shard/traverse?depth=3&from=x&predicate=knows",
		},
		{
			name: "filter",
			step: types.Step{Kind: types.StepFilter, Field: "age", Op: types.FilterGte, Value: float64(18)},
			want: "http://shard/filter?field=age&op=%3E%3D&value=18",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildURL("http://shard", tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildURL_UnknownKind(t *testing.T) {
	_, err := buildURL("http://shard", types.Step{Kind: "bogus"})
	assert.Error(t, err)
}

func TestDispatch_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		assert.Equal(t, "a,b", r.URL.Query().Get("ids"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Dispatch(context.Background(), srv.URL, types.Step{Kind: types.StepLookup, EntityIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "success")
}

func TestDispatch_NonTransportErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"NOT_FOUND","message":"no shard"}}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Dispatch(context.Background(), srv.URL, types.Step{Kind: types.StepLookup, EntityIDs: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
