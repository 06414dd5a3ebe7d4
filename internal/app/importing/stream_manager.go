package importing

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/timeutil"
)

// StreamState is the lifecycle state of the job event subscription.
type StreamState int

const (
	// StreamIdle means no job is selected and nothing is subscribed.
	StreamIdle StreamState = iota
	StreamConnecting
	StreamOpen
	// StreamReconnecting means the last connection failed and a reconnect is
	// scheduled.
	StreamReconnecting
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	case StreamReconnecting:
		return "reconnecting"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// jobEventSink receives the effects of accepted stream messages.
type jobEventSink interface {
	RecordMessage(at time.Time)
	MergeJob(ctx context.Context, patch domain.JobPatch)
	ClearJob(ctx context.Context)
}

// StreamManager keeps exactly one event subscription open for the tracked job
// and applies its messages to the job store. Failed connections are retried
// with exponential backoff until the job changes or the manager is closed.
//
// Each connection is owned by one reader goroutine, so messages are applied in
// delivery order. Every connect or teardown bumps a generation counter; a
// reader whose generation is no longer current drops whatever it receives.
//
// Lock order: StreamManager.mu before any JobStore lock.
type StreamManager struct {
	dialer  domain.StreamDialer
	sink    jobEventSink
	clock   timeutil.Provider
	backoff *reconnectBackoff
	metrics SyncMetrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      StreamState
	jobID      int64
	gen        uint64
	attempt    int
	streamURL  string
	stream     domain.EventStream
	connCancel context.CancelFunc
	timer      timeutil.Timer
	closed     bool

	logger *logger.Logger
	tracer trace.Tracer
}

// StreamManagerOption configures a StreamManager.
type StreamManagerOption func(*StreamManager)

// WithStreamClock sets the clock used for message timestamps and reconnect
// timers.
func WithStreamClock(clock timeutil.Provider) StreamManagerOption {
	return func(m *StreamManager) { m.clock = clock }
}

// WithJitterSource sets the random source for reconnect jitter. It must return
// values in [0, 1).
func WithJitterSource(fn func() float64) StreamManagerOption {
	return func(m *StreamManager) { m.backoff.jitter = fn }
}

// NewStreamManager creates an idle manager. Call SetJobID to subscribe.
func NewStreamManager(
	dialer domain.StreamDialer,
	sink jobEventSink,
	metrics SyncMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...StreamManagerOption,
) *StreamManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &StreamManager{
		dialer:  dialer,
		sink:    sink,
		clock:   timeutil.Default(),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		state:   StreamIdle,
		logger:  logger.With("component", "stream_manager"),
		tracer:  tracer,
	}
	m.backoff = newReconnectBackoff(m.clock, nil)
	for _, opt := range opts {
		opt(m)
	}
	m.backoff.exp.Clock = m.clock
	return m
}

// State returns the current lifecycle state.
func (m *StreamManager) State() StreamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the number of connection errors since the job id last changed.
func (m *StreamManager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// JobID returns the job currently subscribed to, or 0.
func (m *StreamManager) JobID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID
}

// SubscriptionURL returns the URL of the current or pending subscription, or ""
// when there is none.
func (m *StreamManager) SubscriptionURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamURL
}

// SetJobID points the subscription at jobID; 0 drops it. An existing
// subscription for the same job is kept as is, including a pending reconnect.
func (m *StreamManager) SetJobID(jobID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if jobID != 0 && jobID == m.jobID && m.targetsLocked(jobID) {
		return
	}

	if jobID != m.jobID {
		m.attempt = 0
		m.backoff.Reset()
	}

	hadSubscription := m.state != StreamIdle
	m.teardownLocked()
	m.jobID = jobID

	if jobID == 0 {
		if hadSubscription {
			m.state = StreamClosed
		}
		return
	}
	m.connectLocked()
}

// Close tears down the subscription for good. Later SetJobID calls are ignored.
func (m *StreamManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.teardownLocked()
	m.state = StreamClosed
	m.cancel()
	m.logger.Info(m.ctx, "stream manager closed")
}

// targetsLocked reports whether the live or pending subscription is for jobID,
// judged by the "ids" query parameter of its URL.
func (m *StreamManager) targetsLocked(jobID int64) bool {
	if m.streamURL == "" {
		return false
	}
	switch m.state {
	case StreamConnecting, StreamOpen, StreamReconnecting:
	default:
		return false
	}

	u, err := url.Parse(m.streamURL)
	if err != nil {
		return false
	}
	return u.Query().Get("ids") == strconv.FormatInt(jobID, 10)
}

func (m *StreamManager) connectLocked() {
	m.gen++
	gen, jobID := m.gen, m.jobID

	connCtx, cancel := context.WithCancel(m.ctx)
	m.connCancel = cancel
	m.streamURL = m.dialer.SubscriptionURL(jobID)
	m.stream = nil
	m.state = StreamConnecting

	m.logger.Debug(connCtx, "connecting job event stream",
		"job_id", jobID,
		"url", m.streamURL,
		"attempt", m.attempt,
	)
	go m.run(connCtx, gen, jobID)
}

// teardownLocked cancels any pending reconnect and closes the live stream.
func (m *StreamManager) teardownLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.stream != nil {
		if m.stream.ReadyState() != domain.ReadyStateClosed {
			_ = m.stream.Close()
		}
		m.stream = nil
	}
	m.streamURL = ""
}

// run dials one connection and reads it until it fails or is superseded.
func (m *StreamManager) run(ctx context.Context, gen uint64, jobID int64) {
	ctx, span := m.tracer.Start(ctx, "stream_manager.importing.connect",
		trace.WithAttributes(attribute.Int64("job_id", jobID)),
	)
	stream, err := m.dialer.Dial(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dial job event stream")
		span.End()
		m.handleStreamError(ctx, gen, nil, err)
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		_ = stream.Close()
		span.AddEvent("superseded_before_open")
		span.End()
		return
	}
	m.stream = stream
	m.state = StreamOpen
	m.mu.Unlock()

	span.AddEvent("stream_opened")
	span.SetStatus(codes.Ok, "job event stream open")
	span.End()
	m.logger.Info(ctx, "job event stream open", "job_id", jobID, "url", stream.URL())

	for {
		evt, err := stream.Next(ctx)
		if err != nil {
			m.handleStreamError(ctx, gen, stream, err)
			return
		}
		m.handleEvent(ctx, gen, evt)
	}
}

// handleEvent applies one delivered message. Empty messages are ignored
// outright; every other message from the current connection counts as stream
// activity, even if it then turns out to be unusable.
func (m *StreamManager) handleEvent(ctx context.Context, gen uint64, evt domain.StreamEvent) {
	if evt.IsEmpty() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.gen {
		return
	}

	m.sink.RecordMessage(m.clock.Now())
	m.metrics.IncMessagesReceived(ctx)

	if evt.IsHeartbeat() {
		return
	}

	je, err := domain.ParseJobEvent(evt.Data)
	if errors.Is(err, domain.ErrControlMessage) {
		return
	}
	if err != nil {
		m.metrics.IncMalformedMessages(ctx)
		m.logger.Error(ctx, "failed to parse job event", "job_id", m.jobID, "error", err)
		return
	}

	if je.JobID != m.jobID {
		return
	}

	switch je.Verb {
	case domain.VerbDelete:
		m.logger.Info(ctx, "tracked import job deleted", "job_id", je.JobID)
		m.sink.ClearJob(ctx)
		m.teardownLocked()
		m.jobID = 0
		m.state = StreamClosed
	case domain.VerbInsert, domain.VerbUpdate:
		m.sink.MergeJob(ctx, je.Patch)
	}
}

// handleStreamError closes a failed connection and schedules the next attempt.
func (m *StreamManager) handleStreamError(ctx context.Context, gen uint64, stream domain.EventStream, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.gen {
		// Torn down on purpose; the stream was closed by whoever superseded it.
		return
	}

	if stream != nil && stream.ReadyState() != domain.ReadyStateClosed {
		_ = stream.Close()
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.stream = nil
	m.metrics.IncStreamErrors(ctx)

	m.attempt++
	delay := m.backoff.Next()
	m.state = StreamReconnecting

	jobID := m.jobID
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(gen, jobID) })
	m.metrics.IncReconnectsScheduled(ctx)

	m.logger.Warn(ctx, "job event stream failed, reconnect scheduled",
		"job_id", jobID,
		"attempt", m.attempt,
		"delay", delay.String(),
		"error", err,
	)
}

// reconnect runs when a backoff timer fires. It gives up if the manager moved
// on since the timer was armed.
func (m *StreamManager) reconnect(gen uint64, jobID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.gen || jobID != m.jobID {
		return
	}
	m.timer = nil
	m.connectLocked()
}
