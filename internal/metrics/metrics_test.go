package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowstate/pkg/api"
)

func TestCollector_CountsEngineCallbacks(t *testing.T) {
	c := NewCollector("flowstate", nil)
	ctx := context.Background()
	key := api.Key{Flow: "f1", Node: "market_analyst"}

	c.OnUpdateApplied(ctx, api.NodeView{Flow: key.Flow, Node: key.Node, State: api.NodeState{Status: api.StatusInProgress}})
	c.OnUpdateApplied(ctx, api.NodeView{Flow: key.Flow, Node: key.Node, State: api.NodeState{Status: api.StatusCompleted}})
	c.OnUpdateApplied(ctx, api.NodeView{Flow: key.Flow, Node: key.Node, State: api.NodeState{Status: api.StatusCompleted}})
	c.OnStaleUpdate(ctx, key, 100, 90)
	c.OnEventDropped(ctx, key.Flow, api.ProgressEvent{Agent: "ghost"}, errors.New("unknown agent"))
	c.OnPersistenceError(ctx, key.Flow, "save_node_state", errors.New("disk full"))
	c.OnSubscriberPanic(ctx, key, "boom")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.updatesApplied.WithLabelValues(string(api.StatusInProgress))))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.updatesApplied.WithLabelValues(string(api.StatusCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleUpdates.WithLabelValues("f1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsDropped.WithLabelValues("f1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.persistenceErrors.WithLabelValues("save_node_state")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subscriberPanics))
}

func TestCollector_FlowLifecycle(t *testing.T) {
	c := NewCollector("flowstate", nil)
	ctx := context.Background()

	c.OnFlowSwitched(ctx, api.DefaultFlow, "f1")
	c.OnFlowSwitched(ctx, "f1", "f2")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.flowSwitches))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.currentFlow.WithLabelValues("f1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.currentFlow.WithLabelValues("f2")))

	c.OnStaleUpdate(ctx, api.Key{Flow: "f1", Node: "n"}, 2, 1)
	c.OnFlowDeleted(ctx, "f1")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.flowsDeleted))
	// Per-flow series are removed with the flow: default, f2 remain.
	assert.Equal(t, 2, testutil.CollectAndCount(c.currentFlow))
	assert.Equal(t, 0, testutil.CollectAndCount(c.staleUpdates))
}

func TestCollector_CatalogOutcomes(t *testing.T) {
	c := NewCollector("flowstate", nil)
	ctx := context.Background()

	c.OnCatalogFetch(ctx, 1, 0, nil)
	c.OnCatalogFetch(ctx, 2, 0, errors.New("timeout"))
	c.OnCatalogFetch(ctx, 1, 7, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.catalogFetches.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.catalogFetches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.catalogFetches.WithLabelValues("ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.catalogModels))
}

func TestCollector_HandlerExposesMetrics(t *testing.T) {
	c := NewCollector("flowstate", nil)
	c.RecordHTTPRequest("GET", "/flows/:flow/nodes", 200, 15*time.Millisecond)
	c.OnFlowDeleted(context.Background(), "f1")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `flowstate_http_requests_total{method="GET",route="/flows/:flow/nodes",status="200"} 1`), text)
	assert.Contains(t, text, "flowstate_flows_deleted_total 1")
	assert.Contains(t, text, "flowstate_http_request_duration_seconds_bucket")
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors with the same namespace must not collide.
	a := NewCollector("flowstate", nil)
	b := NewCollector("flowstate", nil)
	a.OnFlowDeleted(context.Background(), "x")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.flowsDeleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.flowsDeleted))
	assert.NotSame(t, a.Registry(), b.Registry())
}
