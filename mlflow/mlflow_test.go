package mlflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gidra39/trainlog/config"
	"github.com/gidra39/trainlog/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeServer struct {
	mu        sync.Mutex
	runStatus string
	batches   []types.LogBatchRequest
	updates   []types.UpdateRunRequest
	failBatch bool
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/runs/get", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.URL.Query().Get("run_id") != "run-1" {
			http.Error(w, `{"error_code":"RESOURCE_DOES_NOT_EXIST"}`, http.StatusNotFound)
			return
		}
		f.mu.Lock()
		status := f.runStatus
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"run-1","status":"` + status + `","experiment_id":"0"},"data":{}}}`))
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/log-batch", func(w http.ResponseWriter, r *http.Request) {
		var req types.LogBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if len(req.Metrics)+len(req.Params) > MaxEntitiesPerBatch {
			http.Error(w, `{"error_code":"INVALID_PARAMETER_VALUE"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failBatch {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		f.batches = append(f.batches, req)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/2.0/mlflow/runs/update", func(w http.ResponseWriter, r *http.Request) {
		var req types.UpdateRunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.updates = append(f.updates, req)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cfg := config.Config{MLflowTrackingURI: srv.URL + "/", HTTPTimeoutSeconds: 5}
	return NewClient(cfg, testingclock.NewFakePassiveClock(now))
}

func testRecord(events int, status types.TrainingStatus) *types.TrainingRecord {
	r := &types.TrainingRecord{Status: status}
	r.SystemInfo.Set(types.InfoOS, "Linux")
	ts := now.Add(-time.Hour)
	for i := 0; i < events; i++ {
		r.AddEvent(types.MetricEvent{Step: i + 1, TrainLoss: 2, LearningRate: 1e-4, Epoch: 0.5, Timestamp: ts})
	}
	r.EvalLosses = []float64{1.5, 1.4}
	return r
}

func TestExportRecord(t *testing.T) {
	f := &fakeServer{runStatus: "RUNNING"}
	c := newTestClient(t, f)

	res, err := c.ExportRecord(context.Background(), "run-1", testRecord(2, types.StatusCompleted))
	require.NoError(t, err)

	assert.Equal(t, 8, res.MetricsLogged)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, "FINISHED", res.StatusUpdate)

	require.Len(t, f.batches, 1)
	b := f.batches[0]
	assert.Equal(t, "run-1", b.RunID)
	assert.Equal(t, []types.Param{{Key: "system.os", Value: "Linux"}}, b.Params)
	require.Len(t, b.Metrics, 8)
	assert.Equal(t, types.Metric{Key: "train_loss", Value: 2, Timestamp: now.Add(-time.Hour).UnixMilli(), Step: 1}, b.Metrics[0])
	assert.Equal(t, types.Metric{Key: "eval_loss", Value: 1.4, Timestamp: now.UnixMilli(), Step: 1}, b.Metrics[7])

	require.Len(t, f.updates, 1)
	assert.Equal(t, types.UpdateRunRequest{RunID: "run-1", Status: "FINISHED", EndTime: now.UnixMilli()}, f.updates[0])
}

func TestExportRecordChunksBatches(t *testing.T) {
	f := &fakeServer{runStatus: "RUNNING"}
	c := newTestClient(t, f)

	// 400 events * 3 metrics + 2 eval losses
	res, err := c.ExportRecord(context.Background(), "run-1", testRecord(400, types.StatusRunning))
	require.NoError(t, err)

	assert.Equal(t, 1202, res.MetricsLogged)
	assert.Equal(t, 2, res.Batches)
	assert.Empty(t, res.StatusUpdate)

	require.Len(t, f.batches, 2)
	assert.Len(t, f.batches[0].Params, 1)
	assert.Len(t, f.batches[0].Metrics, MaxEntitiesPerBatch-1)
	assert.Empty(t, f.batches[1].Params)
	assert.Len(t, f.batches[1].Metrics, 203)
	assert.Empty(t, f.updates)
}

func TestSplitBatches(t *testing.T) {
	metrics := func(n int) []types.Metric { return make([]types.Metric, n) }
	params := func(n int) []types.Param { return make([]types.Param, n) }

	tests := []struct {
		name        string
		metrics     int
		params      int
		wantMetrics []int
		wantParams  []int
	}{
		{name: "nothing", wantMetrics: nil, wantParams: nil},
		{name: "params only", params: 3, wantMetrics: []int{0}, wantParams: []int{3}},
		{name: "exact fit", metrics: 997, params: 3, wantMetrics: []int{997}, wantParams: []int{3}},
		{name: "params take room from metrics", metrics: 1000, params: 3, wantMetrics: []int{997, 3}, wantParams: []int{3, 0}},
		{name: "metrics only", metrics: 2500, wantMetrics: []int{1000, 1000, 500}, wantParams: []int{0, 0, 0}},
		{name: "params over the limit", metrics: 10, params: 1200, wantMetrics: []int{0, 10}, wantParams: []int{1000, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := splitBatches("run-1", metrics(tt.metrics), params(tt.params))

			var gotMetrics, gotParams []int
			for _, b := range batches {
				assert.Equal(t, "run-1", b.RunID)
				assert.LessOrEqual(t, len(b.Metrics)+len(b.Params), MaxEntitiesPerBatch)
				gotMetrics = append(gotMetrics, len(b.Metrics))
				gotParams = append(gotParams, len(b.Params))
			}
			assert.Equal(t, tt.wantMetrics, gotMetrics)
			assert.Equal(t, tt.wantParams, gotParams)
		})
	}
}

func TestExportRecordLeavesFinishedRunAlone(t *testing.T) {
	f := &fakeServer{runStatus: "FINISHED"}
	c := newTestClient(t, f)

	res, err := c.ExportRecord(context.Background(), "run-1", testRecord(1, types.StatusFailed))
	require.NoError(t, err)
	assert.Empty(t, res.StatusUpdate)
	assert.Empty(t, f.updates)
}

func TestExportRecordFailedRun(t *testing.T) {
	f := &fakeServer{runStatus: "RUNNING"}
	c := newTestClient(t, f)

	res, err := c.ExportRecord(context.Background(), "run-1", testRecord(1, types.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, "FAILED", res.StatusUpdate)
}

func TestExportRecordErrors(t *testing.T) {
	t.Run("unknown run", func(t *testing.T) {
		c := newTestClient(t, &fakeServer{runStatus: "RUNNING"})
		_, err := c.ExportRecord(context.Background(), "missing", testRecord(1, types.StatusRunning))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("batch rejected", func(t *testing.T) {
		f := &fakeServer{runStatus: "RUNNING", failBatch: true}
		c := newTestClient(t, f)
		res, err := c.ExportRecord(context.Background(), "run-1", testRecord(1, types.StatusCompleted))
		require.Error(t, err)
		assert.Zero(t, res.Batches)
		assert.Empty(t, f.updates)
	})

	t.Run("server unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(config.Config{MLflowTrackingURI: srv.URL, HTTPTimeoutSeconds: 1}, nil)
		_, err := c.ExportRecord(context.Background(), "run-1", testRecord(1, types.StatusRunning))
		assert.Error(t, err)
	})
}
