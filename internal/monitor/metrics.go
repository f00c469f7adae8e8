package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PromQL for the consultd series exported on /metrics.
const (
	queryStartedPerMin   = `sum(rate(consultd_sessions_started_total[5m])) * 60`
	queryExpiredPerMin   = `sum(rate(consultd_sessions_expired_total[5m])) * 60`
	queryOutcomes        = `sum by (outcome) (increase(consultd_outcomes_total[1h]))`
	queryStageP95        = `histogram_quantile(0.95, sum by (le) (rate(consultd_stage_duration_seconds_bucket{status="completed"}[5m])))`
	queryDegradations    = `sum by (component) (increase(consultd_degradations_total[1h]))`
	queryRetriesPerMin   = `sum(rate(consultd_external_call_retries_total[5m])) * 60`
	queryHTTPRatePerMin  = `sum(rate(consultd_http_requests_total[1m])) * 60`
	queryGoroutines      = `sum(go_goroutines{job="consultd"})`
	queryResidentMemory  = `sum(process_resident_memory_bytes{job="consultd"})`
	queryUptimeSeconds   = `time() - max(process_start_time_seconds{job="consultd"})`
	queryDocumentsPerMin = `sum(rate(consultd_documents_issued_total[5m])) * 60`
)

// MetricsClient queries a Prometheus-compatible API (Prometheus or
// VictoriaMetrics).
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// QueryResult represents the query API response
type QueryResult struct {
	Status string    `json:"status"`
	Data   QueryData `json:"data"`
}

// QueryData holds the query result data
type QueryData struct {
	ResultType string         `json:"resultType"`
	Result     []MetricResult `json:"result"`
}

// MetricResult represents a single metric result
type MetricResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

// NewMetricsClient creates a new metrics client
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Query executes an instant PromQL query.
func (c *MetricsClient) Query(ctx context.Context, query string) (QueryResult, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/query")
	if err != nil {
		return QueryResult{}, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return result, nil
}

// QueryScalar runs query and returns its first sample, 0 when empty.
func (c *MetricsClient) QueryScalar(ctx context.Context, query string) (float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryByLabel runs query and returns one value per distinct label value.
func (c *MetricsClient) QueryByLabel(ctx context.Context, query, label string) (map[string]float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(result.Data.Result))
	for _, r := range result.Data.Result {
		v, err := sampleValue(r)
		if err != nil {
			return nil, err
		}
		out[r.Metric[label]] = v
	}
	return out, nil
}

// QueryStartedRate returns consultations started per minute.
func (c *MetricsClient) QueryStartedRate(ctx context.Context) (float64, error) {
	return c.QueryScalar(ctx, queryStartedPerMin)
}

// QueryOutcomes returns terminal outcomes over the last hour by state.
func (c *MetricsClient) QueryOutcomes(ctx context.Context) (map[string]float64, error) {
	return c.QueryByLabel(ctx, queryOutcomes, "outcome")
}

// QueryStageLatencyP95 returns the p95 stage duration in seconds.
func (c *MetricsClient) QueryStageLatencyP95(ctx context.Context) (float64, error) {
	return c.QueryScalar(ctx, queryStageP95)
}

// QueryDegradations returns safe-default fallbacks over the last hour by
// component.
func (c *MetricsClient) QueryDegradations(ctx context.Context) (map[string]float64, error) {
	return c.QueryByLabel(ctx, queryDegradations, "component")
}

// QueryHTTPRate returns HTTP requests per minute.
func (c *MetricsClient) QueryHTTPRate(ctx context.Context) (float64, error) {
	return c.QueryScalar(ctx, queryHTTPRatePerMin)
}

// Snapshot collects everything the dashboard shows. The consultation series
// are required; process series are optional and default to zero.
func (c *MetricsClient) Snapshot(ctx context.Context) (MetricsSnapshot, error) {
	var (
		s   MetricsSnapshot
		err error
	)

	if s.StartedPerMin, err = c.QueryStartedRate(ctx); err != nil {
		return s, err
	}
	if s.Outcomes, err = c.QueryOutcomes(ctx); err != nil {
		return s, err
	}
	if s.StageLatencyP95, err = c.QueryStageLatencyP95(ctx); err != nil {
		return s, err
	}
	if s.Degradations, err = c.QueryDegradations(ctx); err != nil {
		return s, err
	}

	optional := func(query string) float64 {
		v, err := c.QueryScalar(ctx, query)
		if err != nil {
			return 0
		}
		return v
	}
	s.ExpiredPerMin = optional(queryExpiredPerMin)
	s.RetriesPerMin = optional(queryRetriesPerMin)
	s.DocumentsPerMin = optional(queryDocumentsPerMin)
	s.HTTPRate = optional(queryHTTPRatePerMin)
	s.Goroutines = int(optional(queryGoroutines))
	s.MemoryMB = optional(queryResidentMemory) / (1024 * 1024)
	s.Uptime = int64(optional(queryUptimeSeconds))

	return s, nil
}

// extractFloatValue extracts a float value from query result
func extractFloatValue(result QueryResult) (float64, error) {
	if len(result.Data.Result) == 0 {
		return 0, nil
	}
	return sampleValue(result.Data.Result[0])
}

func sampleValue(r MetricResult) (float64, error) {
	valueStr, ok := r.Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("value is not a string")
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}

	return value, nil
}
