package importing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/timeutil"
)

// PendingJobsSnapshot is the state of the pending-job list for one mode.
type PendingJobsSnapshot struct {
	Jobs        []domain.PendingJob
	Loading     bool
	Err         error
	LastFetched time.Time
}

// PendingJobs tracks, per import mode, the jobs still waiting for an upload.
type PendingJobs struct {
	clients *ClientAccessor
	clock   timeutil.Provider

	mu     sync.RWMutex
	byMode map[domain.ImportMode]*PendingJobsSnapshot

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPendingJobs creates an empty tracker.
func NewPendingJobs(clients *ClientAccessor, clock timeutil.Provider, logger *logger.Logger, tracer trace.Tracer) *PendingJobs {
	return &PendingJobs{
		clients: clients,
		clock:   clock,
		byMode:  make(map[domain.ImportMode]*PendingJobsSnapshot),
		logger:  logger.With("component", "pending_jobs"),
		tracer:  tracer,
	}
}

// Get returns the state for mode. A mode never refreshed yields the zero value.
func (p *PendingJobs) Get(mode domain.ImportMode) PendingJobsSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.byMode[mode]
	if !ok {
		return PendingJobsSnapshot{}
	}
	out := *entry
	out.Jobs = slices.Clone(entry.Jobs)
	return out
}

// Refresh reloads the pending jobs for mode, newest first. On failure the
// previously loaded jobs are kept and the error is recorded next to them.
func (p *PendingJobs) Refresh(ctx context.Context, mode domain.ImportMode) error {
	ctx, span := p.tracer.Start(ctx, "pending_jobs.importing.refresh",
		trace.WithAttributes(attribute.String("mode", string(mode))),
	)
	defer span.End()

	p.update(mode, func(e *PendingJobsSnapshot) {
		e.Loading = true
		e.Err = nil
	})

	jobs, err := p.fetch(ctx, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh pending jobs")
		p.logger.Error(ctx, "failed to refresh pending jobs", "mode", mode, "error", err)
		p.update(mode, func(e *PendingJobsSnapshot) {
			e.Loading = false
			e.Err = err
		})
		return err
	}

	now := p.clock.Now()
	p.update(mode, func(e *PendingJobsSnapshot) {
		e.Jobs = jobs
		e.Loading = false
		e.Err = nil
		e.LastFetched = now
	})

	span.SetAttributes(attribute.Int("job_count", len(jobs)))
	span.SetStatus(codes.Ok, "pending jobs refreshed")
	return nil
}

func (p *PendingJobs) fetch(ctx context.Context, mode domain.ImportMode) ([]domain.PendingJob, error) {
	client, err := p.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	jobs, err := client.ListPendingJobs(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs (mode: %s): %w", mode, err)
	}
	return jobs, nil
}

func (p *PendingJobs) update(mode domain.ImportMode, fn func(*PendingJobsSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.byMode[mode]
	if !ok {
		entry = new(PendingJobsSnapshot)
		p.byMode[mode] = entry
	}
	fn(entry)
}
