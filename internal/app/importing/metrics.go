package importing

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics defines the metrics recorded while keeping a job in sync.
type SyncMetrics interface {
	// Stream metrics
	IncMessagesReceived(ctx context.Context)
	IncMalformedMessages(ctx context.Context)
	IncStreamErrors(ctx context.Context)
	IncReconnectsScheduled(ctx context.Context)

	// Store metrics
	IncRefreshesSkipped(ctx context.Context)
	IncJobsCreated(ctx context.Context)
}

// syncMetrics implements SyncMetrics.
type syncMetrics struct {
	messagesReceived    metric.Int64Counter
	malformedMessages   metric.Int64Counter
	streamErrors        metric.Int64Counter
	reconnectsScheduled metric.Int64Counter

	refreshesSkipped metric.Int64Counter
	jobsCreated      metric.Int64Counter
}

const namespace = "import_sync"

// NewSyncMetrics creates a new SyncMetrics instance.
func NewSyncMetrics(mp metric.MeterProvider) (*syncMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	s := new(syncMetrics)
	var err error

	if s.messagesReceived, err = meter.Int64Counter(
		"stream_messages_received_total",
		metric.WithDescription("Total number of non-empty stream messages received"),
	); err != nil {
		return nil, err
	}

	if s.malformedMessages, err = meter.Int64Counter(
		"stream_messages_malformed_total",
		metric.WithDescription("Total number of stream messages that could not be parsed"),
	); err != nil {
		return nil, err
	}

	if s.streamErrors, err = meter.Int64Counter(
		"stream_errors_total",
		metric.WithDescription("Total number of stream transport errors"),
	); err != nil {
		return nil, err
	}

	if s.reconnectsScheduled, err = meter.Int64Counter(
		"stream_reconnects_scheduled_total",
		metric.WithDescription("Total number of reconnection attempts scheduled"),
	); err != nil {
		return nil, err
	}

	if s.refreshesSkipped, err = meter.Int64Counter(
		"job_refreshes_skipped_total",
		metric.WithDescription("Total number of job refreshes skipped because the stream was fresh"),
	); err != nil {
		return nil, err
	}

	if s.jobsCreated, err = meter.Int64Counter(
		"jobs_created_total",
		metric.WithDescription("Total number of import jobs created"),
	); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *syncMetrics) IncMessagesReceived(ctx context.Context) { s.messagesReceived.Add(ctx, 1) }

func (s *syncMetrics) IncMalformedMessages(ctx context.Context) { s.malformedMessages.Add(ctx, 1) }

func (s *syncMetrics) IncStreamErrors(ctx context.Context) { s.streamErrors.Add(ctx, 1) }

func (s *syncMetrics) IncReconnectsScheduled(ctx context.Context) {
	s.reconnectsScheduled.Add(ctx, 1)
}

func (s *syncMetrics) IncRefreshesSkipped(ctx context.Context) { s.refreshesSkipped.Add(ctx, 1) }

func (s *syncMetrics) IncJobsCreated(ctx context.Context) { s.jobsCreated.Add(ctx, 1) }
