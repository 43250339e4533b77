package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/actorkit/actorkit/pkg/metrics"
	"github.com/actorkit/actorkit/pkg/models"
	"github.com/actorkit/actorkit/pkg/retry"
	"github.com/actorkit/actorkit/pkg/tracing"
)

// ErrNotFound is returned when the platform reports a missing resource
var ErrNotFound = errors.New("resource not found")

// Client manages communication with the actor platform API
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	retryCfg   retry.Config
	metrics    *metrics.Metrics
	tracer     *tracing.Provider
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the API token used for Bearer authentication
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTLSConfig enables a custom TLS configuration
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithRetryConfig overrides the backoff settings
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithMetrics records per-call counters and latencies
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracing records a span per API call
func WithTracing(p *tracing.Provider) Option {
	return func(c *Client) { c.tracer = p }
}

// NewClient creates a new platform API client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the platform API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes one API call with retries, decoding the response into out
// when out is non-nil. Raw request bodies are replayed on each attempt.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	if c.tracer != nil {
		spanCtx, span := c.tracer.StartSpan(ctx, method+" "+path,
			attribute.String("http.method", method),
			attribute.String("platform.path", path))
		defer span.End()
		ctx = spanCtx
	}

	start := time.Now()
	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.roundTrip(ctx, method, path, payload, out)
	})
	if c.metrics != nil {
		status := "ok"
		var se *retry.StatusError
		if errors.As(err, &se) {
			status = fmt.Sprintf("%d", se.StatusCode)
		} else if err != nil {
			status = "error"
		}
		c.metrics.APIRequests.WithLabelValues(method, path, status).Inc()
		c.metrics.APIRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
	if err != nil && c.tracer != nil {
		tracing.SetError(ctx, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &retry.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Run operations

// CreateRun starts a new run on the platform
func (c *Client) CreateRun(ctx context.Context, req *models.RunRequest) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodPost, "/v2/runs", req, &run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (c *Client) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodGet, "/v2/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves all runs
func (c *Client) ListRuns(ctx context.Context) ([]*models.Run, error) {
	var result struct {
		Runs []*models.Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/runs", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return result.Runs, nil
}

// StartRun transitions a run from READY to RUNNING
func (c *Client) StartRun(ctx context.Context, runID string) error {
	if err := c.do(ctx, http.MethodPost, "/v2/runs/"+url.PathEscape(runID)+"/start", nil, nil); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// AbortRun requests a graceful abort of a run
func (c *Client) AbortRun(ctx context.Context, runID string) (*models.Run, error) {
	var run models.Run
	if err := c.do(ctx, http.MethodPost, "/v2/runs/"+url.PathEscape(runID)+"/abort", nil, &run); err != nil {
		return nil, fmt.Errorf("failed to abort run: %w", err)
	}
	return &run, nil
}

// RebootRun asks the platform to restart the run in a fresh container
func (c *Client) RebootRun(ctx context.Context, runID string) error {
	if err := c.do(ctx, http.MethodPost, "/v2/runs/"+url.PathEscape(runID)+"/reboot", nil, nil); err != nil {
		return fmt.Errorf("failed to reboot run: %w", err)
	}
	return nil
}

// SetStatusMessage updates the externally visible status message of a run
func (c *Client) SetStatusMessage(ctx context.Context, runID, message string, terminal bool) error {
	update := models.StatusMessageUpdate{Message: message, IsTerminal: terminal}
	if err := c.do(ctx, http.MethodPut, "/v2/runs/"+url.PathEscape(runID)+"/status-message", update, nil); err != nil {
		return fmt.Errorf("failed to set status message: %w", err)
	}
	return nil
}

// FinishRun reports the final exit code of a run
func (c *Client) FinishRun(ctx context.Context, runID string, finish models.RunFinish) error {
	if err := c.do(ctx, http.MethodPost, "/v2/runs/"+url.PathEscape(runID)+"/finish", finish, nil); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// Key-value store operations

// GetOrCreateKeyValueStore resolves a named key-value store
func (c *Client) GetOrCreateKeyValueStore(ctx context.Context, name string) (*models.KeyValueStoreInfo, error) {
	var info models.KeyValueStoreInfo
	path := "/v2/key-value-stores?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodPost, path, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to open key-value store: %w", err)
	}
	return &info, nil
}

// GetRecord retrieves a record; ErrNotFound when the key is missing
func (c *Client) GetRecord(ctx context.Context, storeID, key string) (*models.KeyValueRecord, error) {
	var rec models.KeyValueRecord
	path := "/v2/key-value-stores/" + url.PathEscape(storeID) + "/records/" + url.PathEscape(key)
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetRecord stores a record
func (c *Client) SetRecord(ctx context.Context, storeID string, rec *models.KeyValueRecord) error {
	path := "/v2/key-value-stores/" + url.PathEscape(storeID) + "/records/" + url.PathEscape(rec.Key)
	if err := c.do(ctx, http.MethodPut, path, rec, nil); err != nil {
		return fmt.Errorf("failed to set record: %w", err)
	}
	return nil
}

// DeleteRecord removes a record
func (c *Client) DeleteRecord(ctx context.Context, storeID, key string) error {
	path := "/v2/key-value-stores/" + url.PathEscape(storeID) + "/records/" + url.PathEscape(key)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// ListKeys lists record keys of a store
func (c *Client) ListKeys(ctx context.Context, storeID, exclusiveStartKey string, limit int) (*models.KeyListing, error) {
	var listing models.KeyListing
	path := fmt.Sprintf("/v2/key-value-stores/%s/keys?exclusive_start_key=%s&limit=%d",
		url.PathEscape(storeID), url.QueryEscape(exclusiveStartKey), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &listing); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return &listing, nil
}

// Dataset operations

// GetOrCreateDataset resolves a named dataset
func (c *Client) GetOrCreateDataset(ctx context.Context, name string) (*models.DatasetInfo, error) {
	var info models.DatasetInfo
	path := "/v2/datasets?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodPost, path, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	return &info, nil
}

// PushItems appends items to a dataset
func (c *Client) PushItems(ctx context.Context, datasetID string, items []models.DatasetItem) error {
	path := "/v2/datasets/" + url.PathEscape(datasetID) + "/items"
	if err := c.do(ctx, http.MethodPost, path, items, nil); err != nil {
		return fmt.Errorf("failed to push items: %w", err)
	}
	return nil
}

// ListItems retrieves a page of dataset items
func (c *Client) ListItems(ctx context.Context, datasetID string, offset, limit int) (*models.ItemListing, error) {
	var listing models.ItemListing
	path := fmt.Sprintf("/v2/datasets/%s/items?offset=%d&limit=%d", url.PathEscape(datasetID), offset, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &listing); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return &listing, nil
}

// Health checks platform availability
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/v2/health", nil, nil); err != nil {
		return fmt.Errorf("platform health check failed: %w", err)
	}
	return nil
}
