package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gidra39/trainlog/config"
	"github.com/gidra39/trainlog/types"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

// MaxEntitiesPerBatch is the MLflow limit on metrics and params combined in
// one log-batch request.
const MaxEntitiesPerBatch = 1000

const (
	statusRunning  = "RUNNING"
	statusFinished = "FINISHED"
	statusFailed   = "FAILED"
)

type Client struct {
	trackingURI string
	httpClient  *http.Client
	clock       clock.PassiveClock
}

func NewClient(cfg config.Config, c clock.PassiveClock) *Client {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Client{
		trackingURI: strings.TrimRight(cfg.MLflowTrackingURI, "/"),
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout()},
		clock:       c,
	}
}

// ExportResult summarises what was sent to the tracking server.
type ExportResult struct {
	RunID         string
	MetricsLogged int
	Batches       int
	// StatusUpdate is the run status that was set, if any.
	StatusUpdate string
}

// ExportRecord logs the parsed metrics of record to an existing MLflow run.
// A run still marked RUNNING is closed when the log says training completed
// or failed.
func (c *Client) ExportRecord(ctx context.Context, runID string, record *types.TrainingRecord) (ExportResult, error) {
	res := ExportResult{RunID: runID}

	run, err := c.getRunDetails(ctx, runID)
	if err != nil {
		return res, err
	}
	log.Debug().Str("run_id", runID).Str("status", run.Run.Info.Status).Msg("found MLflow run")

	metrics := c.recordMetrics(record)
	params := recordParams(record)

	for _, req := range splitBatches(runID, metrics, params) {
		if err := c.post(ctx, "runs/log-batch", req); err != nil {
			return res, errors.Wrapf(err, "log batch %d", res.Batches+1)
		}
		res.Batches++
		res.MetricsLogged += len(req.Metrics)
	}

	if target := terminalStatus(record.Status); target != "" && run.Run.Info.Status == statusRunning {
		if err := c.updateRunStatus(ctx, runID, target); err != nil {
			return res, err
		}
		res.StatusUpdate = target
	}

	log.Info().
		Str("run_id", runID).
		Int("metrics", res.MetricsLogged).
		Int("batches", res.Batches).
		Str("status_update", res.StatusUpdate).
		Msg("exported training record to MLflow")
	return res, nil
}

// splitBatches packs params first, then fills each request with metrics up to
// MaxEntitiesPerBatch entities.
func splitBatches(runID string, metrics []types.Metric, params []types.Param) []types.LogBatchRequest {
	var batches []types.LogBatchRequest
	for len(metrics) > 0 || len(params) > 0 {
		req := types.LogBatchRequest{RunID: runID}

		n := min(len(params), MaxEntitiesPerBatch)
		req.Params, params = params[:n:n], params[n:]

		m := min(len(metrics), MaxEntitiesPerBatch-n)
		req.Metrics, metrics = metrics[:m:m], metrics[m:]

		batches = append(batches, req)
	}
	return batches
}

func terminalStatus(s types.TrainingStatus) string {
	switch s {
	case types.StatusCompleted:
		return statusFinished
	case types.StatusFailed:
		return statusFailed
	default:
		return ""
	}
}

func (c *Client) recordMetrics(record *types.TrainingRecord) []types.Metric {
	metrics := make([]types.Metric, 0, record.Len()*3+len(record.EvalLosses))
	for i := 0; i < record.Len(); i++ {
		e := record.Event(i)
		ts := e.Timestamp.UnixMilli()
		metrics = append(metrics,
			types.Metric{Key: "train_loss", Value: e.TrainLoss, Timestamp: ts, Step: e.Step},
			types.Metric{Key: "learning_rate", Value: e.LearningRate, Timestamp: ts, Step: e.Step},
			types.Metric{Key: "epoch", Value: e.Epoch, Timestamp: ts, Step: e.Step},
		)
	}

	// Evaluation events carry no step in the log; their index is used instead.
	now := c.clock.Now().UnixMilli()
	for i, v := range record.EvalLosses {
		metrics = append(metrics, types.Metric{Key: "eval_loss", Value: v, Timestamp: now, Step: i})
	}
	return metrics
}

func recordParams(record *types.TrainingRecord) []types.Param {
	var params []types.Param
	record.SystemInfo.Each(func(k, v string) {
		params = append(params, types.Param{Key: "system." + k, Value: v})
	})
	record.ConfigInfo.Each(func(k, v string) {
		params = append(params, types.Param{Key: "config." + k, Value: v})
	})
	return params
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/api/2.0/mlflow/%s", c.trackingURI, path)
}

func (c *Client) getRunDetails(ctx context.Context, runID string) (*types.GetRunResponse, error) {
	endpoint := c.endpoint("runs/get") + "?run_id=" + url.QueryEscape(runID)
	log.Debug().Str("endpoint", endpoint).Msg("fetching run details")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build run details request")
	}

	body, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch run details")
	}

	var runResponse types.GetRunResponse
	if err := json.Unmarshal(body, &runResponse); err != nil {
		return nil, errors.Wrap(err, "failed to parse run details")
	}
	return &runResponse, nil
}

func (c *Client) updateRunStatus(ctx context.Context, runID, status string) error {
	req := types.UpdateRunRequest{
		RunID:   runID,
		Status:  status,
		EndTime: c.clock.Now().UnixMilli(),
	}
	if err := c.post(ctx, "runs/update", req); err != nil {
		return errors.Wrap(err, "failed to update run status")
	}

	log.Info().Str("run_id", runID).Str("status", status).Msg("updated MLflow run status")
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	log.Debug().Str("url", req.URL.String()).Int("status", resp.StatusCode).Msg("MLflow API response")

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("MLflow API returned status code %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
