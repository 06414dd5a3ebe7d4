// Package postgrest implements the import data client over the STATBUS
// PostgREST API.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

const (
	tableImportJob        = "import_job"
	tableImportDefinition = "import_definition"
	tableTimeContext      = "time_context"

	headerClientID = "X-Client-Id"

	// minRate is the floor adjustRateLimits backs off to.
	minRate = 0.1
)

// Config configures a Client.
type Config struct {
	// BaseURL is the PostgREST root, e.g. "https://statbus.example/rest".
	BaseURL     string
	AccessToken string
	// RateLimit is requests per second; zero disables client-side limiting.
	RateLimit float64
	RateBurst int
	Timeout   time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Client is a domain.DataClient backed by PostgREST. It is safe for
// concurrent use.
type Client struct {
	baseURL  *url.URL
	clientID string

	httpClient  *http.Client
	token       string
	rateLimiter *common.RateLimiter
	baseRate    float64
	baseBurst   int

	logger *logger.Logger
	tracer trace.Tracer
}

var _ domain.DataClient = (*Client)(nil)

// NewClient creates a PostgREST client. Every request carries a client id so
// server logs can be correlated with this process.
func NewClient(cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("postgrest base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgrest base url (url: %s): %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	clientID := uuid.NewString()
	return &Client{
		baseURL:     base,
		clientID:    clientID,
		httpClient:  httpClient,
		token:       cfg.AccessToken,
		rateLimiter: common.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		baseRate:    cfg.RateLimit,
		baseBurst:   cfg.RateBurst,
		logger:      logger.With("component", "postgrest_client", "client_id", clientID),
		tracer:      tracer,
	}, nil
}

// ClientID returns the id sent with every request.
func (c *Client) ClientID() string { return c.clientID }

// GetJobBySlug fetches a single import job by slug.
func (c *Client) GetJobBySlug(ctx context.Context, slug string) (*domain.ImportJob, error) {
	var jobs []domain.ImportJob
	q := from(tableImportJob).eq("slug", slug).limit(1)
	if _, err := c.get(ctx, "get_job_by_slug", q, &jobs); err != nil {
		return nil, fmt.Errorf("failed to get import job (slug: %s): %w", slug, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w (slug: %s)", domain.ErrJobNotFound, slug)
	}
	return &jobs[0], nil
}

// GetJobByID fetches a single import job by id.
func (c *Client) GetJobByID(ctx context.Context, id int64) (*domain.ImportJob, error) {
	var jobs []domain.ImportJob
	q := from(tableImportJob).eq("id", strconv.FormatInt(id, 10)).limit(1)
	if _, err := c.get(ctx, "get_job_by_id", q, &jobs); err != nil {
		return nil, fmt.Errorf("failed to get import job (id: %d): %w", id, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w (id: %d)", domain.ErrJobNotFound, id)
	}
	return &jobs[0], nil
}

// InsertJob creates an import job and returns the stored row.
func (c *Client) InsertJob(ctx context.Context, req domain.NewJobRequest) (*domain.ImportJob, error) {
	var jobs []domain.ImportJob
	_, err := c.do(ctx, "insert_job", http.MethodPost, from(tableImportJob), req,
		map[string]string{"Prefer": "return=representation"}, &jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to insert import job (slug: %s): %w", req.Slug, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("insert of import job returned no row (slug: %s)", req.Slug)
	}
	return &jobs[0], nil
}

// ListPendingJobs lists jobs waiting for upload whose definition has mode,
// newest first.
func (c *Client) ListPendingJobs(ctx context.Context, mode domain.ImportMode) ([]domain.PendingJob, error) {
	var jobs []domain.PendingJob
	q := from(tableImportJob).
		selectCols("*,import_definition!inner(*)").
		eq("state", string(domain.JobStateWaitingForUpload)).
		eq("import_definition.mode", string(mode)).
		order("created_at.desc")
	if _, err := c.get(ctx, "list_pending_jobs", q, &jobs); err != nil {
		return nil, fmt.Errorf("failed to list pending import jobs (mode: %s): %w", mode, err)
	}
	return jobs, nil
}

// GetDefinitionBySlug fetches a single import definition by slug.
func (c *Client) GetDefinitionBySlug(ctx context.Context, slug string) (*domain.ImportDefinition, error) {
	var defs []domain.ImportDefinition
	q := from(tableImportDefinition).eq("slug", slug).limit(1)
	if _, err := c.get(ctx, "get_definition_by_slug", q, &defs); err != nil {
		return nil, fmt.Errorf("failed to get import definition (slug: %s): %w", slug, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w (slug: %s)", domain.ErrDefinitionNotFound, slug)
	}
	return &defs[0], nil
}

// GetDefinitionByID fetches a single import definition by id.
func (c *Client) GetDefinitionByID(ctx context.Context, id int64) (*domain.ImportDefinition, error) {
	var defs []domain.ImportDefinition
	q := from(tableImportDefinition).eq("id", strconv.FormatInt(id, 10)).limit(1)
	if _, err := c.get(ctx, "get_definition_by_id", q, &defs); err != nil {
		return nil, fmt.Errorf("failed to get import definition (id: %d): %w", id, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w (id: %d)", domain.ErrDefinitionNotFound, id)
	}
	return &defs[0], nil
}

// ListDefinitions lists the non-custom definitions for mode.
func (c *Client) ListDefinitions(ctx context.Context, mode domain.ImportMode) ([]domain.ImportDefinition, error) {
	var defs []domain.ImportDefinition
	q := from(tableImportDefinition).eq("mode", string(mode)).isFalse("custom").order("id")
	if _, err := c.get(ctx, "list_definitions", q, &defs); err != nil {
		return nil, fmt.Errorf("failed to list import definitions (mode: %s): %w", mode, err)
	}
	return defs, nil
}

// ListTimeContexts returns every time context, latest period first.
func (c *Client) ListTimeContexts(ctx context.Context) ([]domain.TimeContext, error) {
	var tcs []domain.TimeContext
	q := from(tableTimeContext).order("valid_from.desc")
	if _, err := c.get(ctx, "list_time_contexts", q, &tcs); err != nil {
		return nil, fmt.Errorf("failed to list time contexts: %w", err)
	}
	return tcs, nil
}

// CountUnits issues a count-only HEAD request. The total is read from the
// Content-Range header; nil means the server did not report one.
func (c *Client) CountUnits(ctx context.Context, cq domain.CountQuery) (*int64, error) {
	q := from(cq.Table).selectCols("*")
	if cq.Column != "" {
		q.nullFilter(cq.Column, cq.Filter)
	}

	header, err := c.do(ctx, "count_units", http.MethodHead, q, nil,
		map[string]string{"Prefer": "count=exact"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows (table: %s, filter: %s): %w", cq.Table, cq.Filter, err)
	}

	n, err := parseContentRange(header.Get("Content-Range"))
	if err != nil {
		return nil, fmt.Errorf("failed to count rows (table: %s): %w", cq.Table, err)
	}
	return n, nil
}

func (c *Client) get(ctx context.Context, op string, q *query, out any) (http.Header, error) {
	return c.do(ctx, op, http.MethodGet, q, nil, nil, out)
}

// do performs one rate-limited request and decodes a JSON body into out when
// out is non-nil. It returns the response headers.
func (c *Client) do(
	ctx context.Context,
	op, method string,
	q *query,
	body any,
	headers map[string]string,
	out any,
) (http.Header, error) {
	ctx, span := c.tracer.Start(ctx, "postgrest_client.importing."+op,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("table", q.table),
		))
	defer span.End()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait failed")
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to marshal request")
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		span.SetAttributes(attribute.Int("request_size", len(data)))
	}

	u := c.baseURL.JoinPath(q.table)
	u.RawQuery = q.encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerClientID, c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	c.adjustRateLimits(ctx, resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "non-2xx response")
		return nil, apiErr
	}

	if out != nil && method != http.MethodHead {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode response")
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "request completed successfully")
	return resp.Header, nil
}

// adjustRateLimits halves the request rate while the server reports overload
// and restores the configured rate once a request succeeds.
func (c *Client) adjustRateLimits(ctx context.Context, resp *http.Response) {
	if c.baseRate <= 0 {
		return
	}

	current := c.rateLimiter.Limit()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		next := current / 2
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			next = min(next, 1/float64(secs))
		}
		next = max(next, minRate)
		c.rateLimiter.UpdateLimits(next, 1)
		c.logger.Warn(ctx, "server signalled overload, slowing requests",
			"status", resp.StatusCode,
			"rate", next,
		)
	case resp.StatusCode < 300 && current < c.baseRate:
		c.rateLimiter.UpdateLimits(c.baseRate, max(c.baseBurst, 1))
	}
}
