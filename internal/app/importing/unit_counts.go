package importing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

// UnitCountAggregator caches the entity counts shown as context for imports.
type UnitCountAggregator struct {
	clients *ClientAccessor

	mu     sync.RWMutex
	counts domain.UnitCounts

	logger *logger.Logger
	tracer trace.Tracer
}

// NewUnitCountAggregator creates an aggregator with every count unknown.
func NewUnitCountAggregator(clients *ClientAccessor, logger *logger.Logger, tracer trace.Tracer) *UnitCountAggregator {
	return &UnitCountAggregator{
		clients: clients,
		logger:  logger.With("component", "unit_count_aggregator"),
		tracer:  tracer,
	}
}

// Counts returns the cached counts.
func (a *UnitCountAggregator) Counts() domain.UnitCounts {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts
}

// RefreshUnitCount re-counts one kind and stores the result under that kind
// only. A count the server does not report is stored as 0.
func (a *UnitCountAggregator) RefreshUnitCount(ctx context.Context, kind domain.UnitKind) error {
	ctx, span := a.tracer.Start(ctx, "unit_count_aggregator.importing.refresh_unit_count",
		trace.WithAttributes(attribute.String("unit_kind", string(kind))),
	)
	defer span.End()

	q, err := kind.CountQuery()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown unit kind")
		return err
	}

	client, err := a.clients.Client(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "client unavailable")
		return err
	}

	n, err := client.CountUnits(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count units")
		return fmt.Errorf("failed to count %s: %w", kind, err)
	}

	var count int64
	if n != nil {
		count = *n
	}

	a.mu.Lock()
	a.counts = a.counts.With(kind, count)
	a.mu.Unlock()

	span.SetAttributes(attribute.Int64("count", count))
	span.SetStatus(codes.Ok, "unit count refreshed")
	return nil
}

// RefreshCounts re-counts every kind concurrently. Each kind is stored as soon
// as it arrives; the first failure is returned after all requests finish.
func (a *UnitCountAggregator) RefreshCounts(ctx context.Context) error {
	var g errgroup.Group
	for _, kind := range domain.AllUnitKinds {
		g.Go(func() error { return a.RefreshUnitCount(ctx, kind) })
	}

	if err := g.Wait(); err != nil {
		a.logger.Warn(ctx, "failed to refresh unit counts", "error", err)
		return err
	}
	a.logger.Debug(ctx, "unit counts refreshed")
	return nil
}
