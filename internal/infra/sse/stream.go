// Package sse subscribes to import job changes over the STATBUS server-sent
// events route.
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

const importJobsPath = "/api/sse/import-jobs"

// ErrStreamClosed is returned by Next once the stream was closed locally.
var ErrStreamClosed = errors.New("event stream closed")

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// AppURL is the STATBUS application root, e.g. "https://statbus.example".
	AppURL      string
	AccessToken string
	// HTTPClient overrides the instrumented default client. It must not set a
	// Timeout, which would cut long-lived streams.
	HTTPClient *http.Client
}

// Dialer opens import job event streams.
type Dialer struct {
	base       *url.URL
	token      string
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

var _ domain.StreamDialer = (*Dialer)(nil)

// NewDialer creates a Dialer for the application at cfg.AppURL.
func NewDialer(cfg DialerConfig, logger *logger.Logger, tracer trace.Tracer) (*Dialer, error) {
	if cfg.AppURL == "" {
		return nil, errors.New("sse app url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.AppURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse app url (url: %s): %w", cfg.AppURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Dialer{
		base:       base,
		token:      cfg.AccessToken,
		httpClient: httpClient,
		logger:     logger.With("component", "sse_dialer"),
		tracer:     tracer,
	}, nil
}

// SubscriptionURL returns the stream URL for jobID.
func (d *Dialer) SubscriptionURL(jobID int64) string {
	u := d.base.JoinPath(importJobsPath)
	u.RawQuery = url.Values{"ids": []string{strconv.FormatInt(jobID, 10)}}.Encode()
	return u.String()
}

// Dial connects to the stream for jobID. The connection lives until Close is
// called or ctx is cancelled.
func (d *Dialer) Dial(ctx context.Context, jobID int64) (domain.EventStream, error) {
	streamURL := d.SubscriptionURL(jobID)
	subID := uuid.NewString()

	spanCtx, span := d.tracer.Start(ctx, "sse_dialer.importing.dial",
		trace.WithAttributes(
			attribute.Int64("job_id", jobID),
			attribute.String("subscription_id", subID),
		))
	defer span.End()

	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request")
		return nil, fmt.Errorf("failed to create stream request (job_id: %d): %w", jobID, err)
	}
	// Propagate the dial span without tying the stream's lifetime to it.
	req = req.WithContext(trace.ContextWithSpanContext(connCtx, trace.SpanContextFromContext(spanCtx)))
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Subscription-Id", subID)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("failed to connect stream (job_id: %d): %w", jobID, err)
	}

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		cancel()
		err := fmt.Errorf("unexpected stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-200 response")
		return nil, fmt.Errorf("failed to connect stream (job_id: %d): %w", jobID, err)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		resp.Body.Close()
		cancel()
		err := fmt.Errorf("unexpected stream content type %q", resp.Header.Get("Content-Type"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "wrong content type")
		return nil, fmt.Errorf("failed to connect stream (job_id: %d): %w", jobID, err)
	}

	s := newStream(streamURL, resp.Body, cancel)
	d.logger.Debug(ctx, "event stream connected", "job_id", jobID, "subscription_id", subID)
	span.SetStatus(codes.Ok, "stream connected")
	return s, nil
}

type readResult struct {
	ev  domain.StreamEvent
	err error
}

// stream delivers events read by a background goroutine. The goroutine exits
// when the body fails, which Close forces by cancelling the request.
type stream struct {
	url    string
	body   io.ReadCloser
	cancel context.CancelFunc

	results chan readResult
	done    chan struct{}
	state   atomic.Int32
	once    sync.Once
}

var _ domain.EventStream = (*stream)(nil)

func newStream(streamURL string, body io.ReadCloser, cancel context.CancelFunc) *stream {
	s := &stream{
		url:     streamURL,
		body:    body,
		cancel:  cancel,
		results: make(chan readResult),
		done:    make(chan struct{}),
	}
	s.state.Store(int32(domain.ReadyStateOpen))
	go s.read()
	return s
}

func (s *stream) read() {
	defer s.body.Close()

	er := newEventReader(s.body)
	for {
		ev, err := er.next()
		if err != nil {
			s.state.Store(int32(domain.ReadyStateClosed))
		}
		select {
		case s.results <- readResult{ev: ev, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *stream) URL() string { return s.url }

func (s *stream) ReadyState() domain.ReadyState { return domain.ReadyState(s.state.Load()) }

// Next returns the next event. A server that ends the response yields
// io.ErrUnexpectedEOF, since import job streams never end on their own.
func (s *stream) Next(ctx context.Context) (domain.StreamEvent, error) {
	select {
	case <-ctx.Done():
		return domain.StreamEvent{}, ctx.Err()
	case <-s.done:
		return domain.StreamEvent{}, ErrStreamClosed
	case r := <-s.results:
		if errors.Is(r.err, io.EOF) {
			return domain.StreamEvent{}, io.ErrUnexpectedEOF
		}
		return r.ev, r.err
	}
}

// Close aborts the request and returns without waiting for the reader.
func (s *stream) Close() error {
	s.once.Do(func() {
		s.state.Store(int32(domain.ReadyStateClosed))
		close(s.done)
		s.cancel()
	})
	return nil
}
