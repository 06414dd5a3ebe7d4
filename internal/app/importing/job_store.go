package importing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/timeutil"
)

// DefaultFreshnessWindow is how long after an accepted stream message a pull
// refresh is considered redundant.
const DefaultFreshnessWindow = 5 * time.Second

// timeWindowSource supplies the valid-time settings new jobs are created with.
type timeWindowSource interface {
	Snapshot() TimeContextSelection
}

// JobStore holds the single import job being tracked and its definition. It
// is written by the request-driven operations below and by the stream manager
// through RecordMessage, MergeJob, and ClearJob.
type JobStore struct {
	clients   *ClientAccessor
	times     timeWindowSource
	clock     timeutil.Provider
	freshness time.Duration
	metrics   SyncMetrics

	mu                sync.RWMutex
	currentJob        *domain.ImportJob
	currentDefinition *domain.ImportDefinition
	lastMessageTime   time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// JobStoreOption configures a JobStore.
type JobStoreOption func(*JobStore)

// WithFreshnessWindow overrides DefaultFreshnessWindow.
func WithFreshnessWindow(d time.Duration) JobStoreOption {
	return func(s *JobStore) { s.freshness = d }
}

// WithStoreClock overrides the wall clock used for slugs and freshness checks.
func WithStoreClock(clock timeutil.Provider) JobStoreOption {
	return func(s *JobStore) { s.clock = clock }
}

// NewJobStore creates an empty store.
func NewJobStore(
	clients *ClientAccessor,
	times timeWindowSource,
	metrics SyncMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...JobStoreOption,
) *JobStore {
	s := &JobStore{
		clients:   clients,
		times:     times,
		clock:     timeutil.Default(),
		freshness: DefaultFreshnessWindow,
		metrics:   metrics,
		logger:    logger.With("component", "job_store"),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentJob returns a copy of the tracked job, or nil.
func (s *JobStore) CurrentJob() *domain.ImportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentJob.Clone()
}

// CurrentDefinition returns the definition of the tracked job, or nil when it
// is unknown.
func (s *JobStore) CurrentDefinition() *domain.ImportDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentDefinition == nil {
		return nil
	}
	def := *s.currentDefinition
	return &def
}

// LastMessageTime returns when the stream last delivered a non-empty message.
func (s *JobStore) LastMessageTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMessageTime
}

// CreateImportJob creates a job for the definition named definitionSlug and
// starts tracking it. The job's validity window comes from explicit dates in
// explicit-dates mode, otherwise from the selected time context. Definitions
// that read validity from source columns get no window.
func (s *JobStore) CreateImportJob(ctx context.Context, definitionSlug string) (*domain.ImportJob, error) {
	logger := s.logger.With("operation", "create_import_job", "definition_slug", definitionSlug)
	ctx, span := s.tracer.Start(ctx, "job_store.importing.create_import_job",
		trace.WithAttributes(attribute.String("definition_slug", definitionSlug)),
	)
	defer span.End()

	client, err := s.clients.Client(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "client unavailable")
		return nil, err
	}

	def, err := client.GetDefinitionBySlug(ctx, definitionSlug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get import definition")
		return nil, fmt.Errorf("failed to get import definition (slug: %s): %w", definitionSlug, err)
	}
	span.AddEvent("definition_resolved", trace.WithAttributes(attribute.Int64("definition_id", def.ID)))

	req := domain.NewJobRequest{
		DefinitionID: def.ID,
		Slug:         domain.JobSlug(definitionSlug, s.clock.Now()),
	}
	if err := applyTimeWindow(def, s.times.Snapshot(), &req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no validity window")
		return nil, err
	}

	job, err := client.InsertJob(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert import job")
		return nil, fmt.Errorf("failed to insert import job (slug: %s): %w", req.Slug, err)
	}
	span.AddEvent("job_inserted", trace.WithAttributes(attribute.Int64("job_id", job.ID)))

	s.mu.Lock()
	s.trackLocked(job, def)
	s.mu.Unlock()

	s.metrics.IncJobsCreated(ctx)
	logger.Info(ctx, "import job created", "job_id", job.ID, "job_slug", job.Slug)
	span.SetStatus(codes.Ok, "import job created")

	return job, nil
}

func applyTimeWindow(def *domain.ImportDefinition, sel TimeContextSelection, req *domain.NewJobRequest) error {
	if def.ValidTimeFrom == domain.ValidTimeSourceColumns {
		return nil
	}

	if sel.UseExplicitDates {
		if sel.ExplicitFrom == nil || *sel.ExplicitFrom == "" || sel.ExplicitTo == nil || *sel.ExplicitTo == "" {
			return domain.ErrExplicitDatesMissing
		}
		from, to := *sel.ExplicitFrom, *sel.ExplicitTo
		req.DefaultValidFrom, req.DefaultValidTo = &from, &to
		return nil
	}

	if sel.Selected == nil {
		return domain.ErrNoTimeContext
	}
	ident, from, to := sel.Selected.Ident, sel.Selected.ValidFrom, sel.Selected.ValidTo
	req.TimeContextIdent = &ident
	req.DefaultValidFrom, req.DefaultValidTo = &from, &to
	return nil
}

// GetImportJobBySlug returns the tracked job when its slug matches; otherwise
// it loads the job and, best-effort, its definition and tracks them.
func (s *JobStore) GetImportJobBySlug(ctx context.Context, slug string) (*domain.ImportJob, error) {
	logger := s.logger.With("operation", "get_import_job_by_slug", "job_slug", slug)
	ctx, span := s.tracer.Start(ctx, "job_store.importing.get_import_job_by_slug",
		trace.WithAttributes(attribute.String("job_slug", slug)),
	)
	defer span.End()

	s.mu.RLock()
	if s.currentJob != nil && s.currentJob.Slug == slug {
		job := s.currentJob.Clone()
		s.mu.RUnlock()
		span.AddEvent("cache_hit")
		return job, nil
	}
	s.mu.RUnlock()

	client, err := s.clients.Client(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "client unavailable")
		return nil, err
	}

	job, err := client.GetJobBySlug(ctx, slug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get import job")
		return nil, fmt.Errorf("failed to get import job (slug: %s): %w", slug, err)
	}
	span.AddEvent("job_fetched", trace.WithAttributes(attribute.Int64("job_id", job.ID)))

	def, err := client.GetDefinitionByID(ctx, job.DefinitionID)
	if err != nil {
		span.RecordError(err)
		logger.Warn(ctx, "failed to load import definition for job",
			"job_id", job.ID,
			"definition_id", job.DefinitionID,
			"error", err,
		)
		def = nil
	}

	s.mu.Lock()
	s.trackLocked(job, def)
	s.mu.Unlock()
	span.SetStatus(codes.Ok, "import job loaded")

	return job, nil
}

// RefreshImportJob re-reads the tracked job from the server. It does nothing
// when no job is tracked or when the stream delivered a message within the
// freshness window. The definition is re-read only when the job now points at
// a different one.
func (s *JobStore) RefreshImportJob(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "job_store.importing.refresh_import_job")
	defer span.End()

	s.mu.RLock()
	current, def, last := s.currentJob, s.currentDefinition, s.lastMessageTime
	s.mu.RUnlock()

	if current == nil {
		span.AddEvent("no_current_job")
		return nil
	}
	span.SetAttributes(attribute.Int64("job_id", current.ID))

	if !last.IsZero() && s.clock.Since(last) < s.freshness {
		span.AddEvent("skipped_stream_fresh")
		s.metrics.IncRefreshesSkipped(ctx)
		return nil
	}

	logger := s.logger.With("operation", "refresh_import_job", "job_id", current.ID)

	client, err := s.clients.Client(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "client unavailable")
		return err
	}

	job, err := client.GetJobByID(ctx, current.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to refresh import job")
		return fmt.Errorf("failed to refresh import job (job_id: %d): %w", current.ID, err)
	}
	span.AddEvent("job_fetched")

	if def == nil || def.ID != job.DefinitionID {
		var defErr error
		def, defErr = client.GetDefinitionByID(ctx, job.DefinitionID)
		if defErr != nil {
			span.RecordError(defErr)
			logger.Warn(ctx, "failed to load import definition for job",
				"definition_id", job.DefinitionID,
				"error", defErr,
			)
			def = nil
		} else {
			span.AddEvent("definition_refetched")
		}
	}

	s.mu.Lock()
	// The job may have been cleared or replaced while the request was in flight.
	if s.currentJob == nil || s.currentJob.ID != job.ID {
		s.mu.Unlock()
		span.AddEvent("discarded_superseded")
		return nil
	}
	s.currentJob = job.Clone()
	s.currentDefinition = def
	s.mu.Unlock()

	logger.Debug(ctx, "import job refreshed", "state", job.State)
	span.SetStatus(codes.Ok, "import job refreshed")
	return nil
}

// trackLocked makes job the tracked job. Stream activity recorded for a
// different job does not count towards the new one's freshness.
func (s *JobStore) trackLocked(job *domain.ImportJob, def *domain.ImportDefinition) {
	if s.currentJob == nil || s.currentJob.ID != job.ID {
		s.lastMessageTime = time.Time{}
	}
	s.currentJob = job.Clone()
	s.currentDefinition = def
}

// RecordMessage notes that the stream delivered a message at t. Earlier
// timestamps are ignored so the recorded time never moves backwards.
func (s *JobStore) RecordMessage(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastMessageTime) {
		s.lastMessageTime = t
	}
	s.mu.Unlock()
}

// MergeJob applies patch to the tracked job. It does nothing when no job is
// tracked. The definition is dropped when the patch moves the job to another
// definition.
func (s *JobStore) MergeJob(ctx context.Context, patch domain.JobPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentJob == nil {
		return
	}

	next, err := domain.ApplyPatch(s.currentJob, patch)
	if err != nil {
		s.logger.Error(ctx, "failed to apply job patch", "job_id", s.currentJob.ID, "error", err)
		return
	}

	s.logDiff(ctx, s.currentJob, next)
	s.currentJob = next
	if s.currentDefinition != nil && s.currentDefinition.ID != next.DefinitionID {
		s.currentDefinition = nil
	}
}

// ClearJob forgets the tracked job and its definition.
func (s *JobStore) ClearJob(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentJob == nil {
		return
	}
	s.logger.Info(ctx, "import job cleared", "job_id", s.currentJob.ID)
	s.currentJob = nil
	s.currentDefinition = nil
}

func (s *JobStore) logDiff(ctx context.Context, before, after *domain.ImportJob) {
	if !s.logger.Enabled(ctx, logger.LevelDebug) {
		return
	}

	prev, err := json.Marshal(before)
	if err != nil {
		return
	}
	next, err := json.Marshal(after)
	if err != nil {
		return
	}
	diff, err := jsonpatch.CreateMergePatch(prev, next)
	if err != nil {
		return
	}
	s.logger.Debug(ctx, "import job merged",
		"job_id", after.ID,
		"changes", string(diff),
	)
}
