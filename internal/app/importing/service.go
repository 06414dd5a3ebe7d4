package importing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/timeutil"
)

// ServiceConfig carries the collaborators of a Service.
type ServiceConfig struct {
	ClientFactory ClientFactory
	Dialer        domain.StreamDialer
	Metrics       SyncMetrics
	Logger        *logger.Logger
	Tracer        trace.Tracer

	// Optional.
	Clock           timeutil.Provider
	FreshnessWindow time.Duration
	JitterSource    func() float64
}

// Service ties together the components that keep one import job in sync with
// the server. It is the single entry point for callers: jobs it creates or
// loads are subscribed to automatically.
type Service struct {
	clients      *ClientAccessor
	store        *JobStore
	stream       *StreamManager
	counts       *UnitCountAggregator
	timeContexts *TimeContextSelector
	definitions  *DefinitionCatalog
	pending      *PendingJobs

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *logger.Logger
}

// NewService wires a Service from cfg. Nothing is contacted until Open or the
// first operation that needs the data client.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.Default()
	}
	freshness := cfg.FreshnessWindow
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}

	log := cfg.Logger.With("component", "import_sync_service")
	clients := NewClientAccessor(cfg.ClientFactory, cfg.Logger)
	timeContexts := NewTimeContextSelector()
	store := NewJobStore(clients, timeContexts, cfg.Metrics, cfg.Logger, cfg.Tracer,
		WithFreshnessWindow(freshness),
		WithStoreClock(clock),
	)

	streamOpts := []StreamManagerOption{WithStreamClock(clock)}
	if cfg.JitterSource != nil {
		streamOpts = append(streamOpts, WithJitterSource(cfg.JitterSource))
	}
	stream := NewStreamManager(cfg.Dialer, store, cfg.Metrics, cfg.Logger, cfg.Tracer, streamOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		clients:      clients,
		store:        store,
		stream:       stream,
		counts:       NewUnitCountAggregator(clients, cfg.Logger, cfg.Tracer),
		timeContexts: timeContexts,
		definitions:  NewDefinitionCatalog(clients, cfg.Logger, cfg.Tracer),
		pending:      NewPendingJobs(clients, clock, cfg.Logger, cfg.Tracer),
		ctx:          ctx,
		cancel:       cancel,
		logger:       log,
	}

	// The first time a client exists, load the counts in the background.
	clients.OnReady(ctx, func(context.Context, domain.DataClient) {
		go func() {
			if err := s.counts.RefreshCounts(s.ctx); err != nil {
				s.logger.Warn(s.ctx, "initial unit count refresh failed", "error", err)
			}
		}()
	})

	return s
}

// Open initializes the data client.
func (s *Service) Open(ctx context.Context) error {
	if _, err := s.clients.Client(ctx); err != nil {
		s.logger.Error(ctx, "failed to open import sync service", "error", err)
		return err
	}
	s.logger.Info(ctx, "import sync service open")
	return nil
}

// Close stops the event subscription and background work. It is safe to call
// more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.stream.Close()
		s.cancel()
		s.logger.Info(context.Background(), "import sync service closed")
	})
}

// CreateImportJob creates a job for definitionSlug and subscribes to it.
func (s *Service) CreateImportJob(ctx context.Context, definitionSlug string) (*domain.ImportJob, error) {
	job, err := s.store.CreateImportJob(ctx, definitionSlug)
	if err != nil {
		return nil, err
	}
	s.stream.SetJobID(job.ID)
	return job, nil
}

// GetImportJobBySlug loads the job named slug and subscribes to it.
func (s *Service) GetImportJobBySlug(ctx context.Context, slug string) (*domain.ImportJob, error) {
	job, err := s.store.GetImportJobBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	s.stream.SetJobID(job.ID)
	return job, nil
}

// RefreshImportJob re-reads the tracked job unless the stream is fresh.
func (s *Service) RefreshImportJob(ctx context.Context) error {
	return s.store.RefreshImportJob(ctx)
}

// RefreshUnitCount re-counts one kind of unit.
func (s *Service) RefreshUnitCount(ctx context.Context, kind domain.UnitKind) error {
	return s.counts.RefreshUnitCount(ctx, kind)
}

// RefreshCounts re-counts every kind of unit.
func (s *Service) RefreshCounts(ctx context.Context) error {
	return s.counts.RefreshCounts(ctx)
}

// CurrentJob returns the tracked job, or nil.
func (s *Service) CurrentJob() *domain.ImportJob { return s.store.CurrentJob() }

// CurrentDefinition returns the tracked job's definition, or nil.
func (s *Service) CurrentDefinition() *domain.ImportDefinition { return s.store.CurrentDefinition() }

// Counts returns the cached unit counts.
func (s *Service) Counts() domain.UnitCounts { return s.counts.Counts() }

// Store exposes the job store.
func (s *Service) Store() *JobStore { return s.store }

// Stream exposes the stream manager.
func (s *Service) Stream() *StreamManager { return s.stream }

// TimeContexts exposes the time context selector.
func (s *Service) TimeContexts() *TimeContextSelector { return s.timeContexts }

// Definitions exposes the definition catalog.
func (s *Service) Definitions() *DefinitionCatalog { return s.definitions }

// PendingJobs exposes the pending-jobs tracker.
func (s *Service) PendingJobs() *PendingJobs { return s.pending }
