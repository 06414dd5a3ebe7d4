package importing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

var testStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// mockDataClient implements domain.DataClient for testing.
type mockDataClient struct{ mock.Mock }

func (m *mockDataClient) GetJobBySlug(ctx context.Context, slug string) (*domain.ImportJob, error) {
	args := m.Called(ctx, slug)
	if job := args.Get(0); job != nil {
		return job.(*domain.ImportJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) GetJobByID(ctx context.Context, id int64) (*domain.ImportJob, error) {
	args := m.Called(ctx, id)
	if job := args.Get(0); job != nil {
		return job.(*domain.ImportJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) InsertJob(ctx context.Context, req domain.NewJobRequest) (*domain.ImportJob, error) {
	args := m.Called(ctx, req)
	if job := args.Get(0); job != nil {
		return job.(*domain.ImportJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) ListPendingJobs(ctx context.Context, mode domain.ImportMode) ([]domain.PendingJob, error) {
	args := m.Called(ctx, mode)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]domain.PendingJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) GetDefinitionBySlug(ctx context.Context, slug string) (*domain.ImportDefinition, error) {
	args := m.Called(ctx, slug)
	if def := args.Get(0); def != nil {
		return def.(*domain.ImportDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) GetDefinitionByID(ctx context.Context, id int64) (*domain.ImportDefinition, error) {
	args := m.Called(ctx, id)
	if def := args.Get(0); def != nil {
		return def.(*domain.ImportDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) ListDefinitions(ctx context.Context, mode domain.ImportMode) ([]domain.ImportDefinition, error) {
	args := m.Called(ctx, mode)
	if defs := args.Get(0); defs != nil {
		return defs.([]domain.ImportDefinition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataClient) CountUnits(ctx context.Context, q domain.CountQuery) (*int64, error) {
	args := m.Called(ctx, q)
	if n := args.Get(0); n != nil {
		return n.(*int64), args.Error(1)
	}
	return nil, args.Error(1)
}

var errStreamClosed = errors.New("stream closed")

// fakeStream is an in-memory EventStream driven by the test.
type fakeStream struct {
	url    string
	events chan domain.StreamEvent
	fail   chan error

	done       chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
	closeCalls atomic.Int32
}

func newFakeStream(url string) *fakeStream {
	return &fakeStream{
		url:    url,
		events: make(chan domain.StreamEvent, 16),
		fail:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *fakeStream) URL() string { return s.url }

func (s *fakeStream) Next(ctx context.Context) (domain.StreamEvent, error) {
	select {
	case <-s.done:
		return domain.StreamEvent{}, errStreamClosed
	case err := <-s.fail:
		return domain.StreamEvent{}, err
	case evt := <-s.events:
		return evt, nil
	case <-ctx.Done():
		return domain.StreamEvent{}, ctx.Err()
	}
}

func (s *fakeStream) ReadyState() domain.ReadyState {
	if s.closed.Load() {
		return domain.ReadyStateClosed
	}
	return domain.ReadyStateOpen
}

func (s *fakeStream) Close() error {
	s.closeCalls.Add(1)
	s.closed.Store(true)
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// send delivers a default (unnamed) message.
func (s *fakeStream) send(data string) { s.events <- domain.StreamEvent{Data: data} }

// breakWith fails the stream as a transport error would.
func (s *fakeStream) breakWith(err error) { s.fail <- err }

// dropByServer fails the stream after marking it closed, as when the server
// ends the response.
func (s *fakeStream) dropByServer(err error) {
	s.closed.Store(true)
	s.fail <- err
}

// fakeDialer hands out fakeStreams and remembers them in dial order.
type fakeDialer struct {
	mu      sync.Mutex
	dialErr error
	streams []*fakeStream
	dials   int
}

func (d *fakeDialer) SubscriptionURL(jobID int64) string {
	return fmt.Sprintf("http://statbus.test/api/sse/import-jobs?ids=%d", jobID)
}

func (d *fakeDialer) Dial(_ context.Context, jobID int64) (domain.EventStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := newFakeStream(d.SubscriptionURL(jobID))
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

func (d *fakeDialer) streamCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// spySink records what the stream manager hands to the store.
type spySink struct {
	mu       sync.Mutex
	messages []time.Time
	merges   []domain.JobPatch
	clears   int
}

func (s *spySink) RecordMessage(at time.Time) {
	s.mu.Lock()
	s.messages = append(s.messages, at)
	s.mu.Unlock()
}

func (s *spySink) MergeJob(_ context.Context, patch domain.JobPatch) {
	s.mu.Lock()
	s.merges = append(s.merges, patch)
	s.mu.Unlock()
}

func (s *spySink) ClearJob(context.Context) {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
}

func (s *spySink) counts() (messages, merges, clears int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), len(s.merges), s.clears
}

func (s *spySink) merge(i int) domain.JobPatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merges[i]
}

func newTestMetrics(t *testing.T) SyncMetrics {
	t.Helper()
	m, err := NewSyncMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msg)
}

func mustJob(t *testing.T, js string) *domain.ImportJob {
	t.Helper()
	var j domain.ImportJob
	require.NoError(t, json.Unmarshal([]byte(js), &j))
	return &j
}

func ptr[T any](v T) *T { return &v }
