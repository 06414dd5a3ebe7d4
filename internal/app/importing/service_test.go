package importing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/timeutil"
)

type serviceHarness struct {
	svc    *Service
	client *mockDataClient
	dialer *fakeDialer
	clock  *timeutil.Mock
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	h := &serviceHarness{
		client: new(mockDataClient),
		dialer: new(fakeDialer),
		clock:  timeutil.NewMock(testStart),
	}
	h.client.On("CountUnits", mock.Anything, mock.Anything).Return(ptr(int64(5)), nil).Maybe()

	h.svc = NewService(ServiceConfig{
		ClientFactory: func(context.Context) (domain.DataClient, error) { return h.client, nil },
		Dialer:        h.dialer,
		Metrics:       newTestMetrics(t),
		Logger:        logger.Noop(),
		Tracer:        noop.NewTracerProvider().Tracer("test"),
		Clock:         h.clock,
		JitterSource:  func() float64 { return 0 },
	})
	t.Cleanup(h.svc.Close)
	return h
}

func (h *serviceHarness) loadJob(t *testing.T) *fakeStream {
	t.Helper()

	h.client.On("GetJobBySlug", mock.Anything, "x").
		Return(mustJob(t, `{"id":42,"slug":"x","description":"old","definition_id":7}`), nil)
	h.client.On("GetDefinitionByID", mock.Anything, int64(7)).Return(payrollDefinition(), nil)

	_, err := h.svc.GetImportJobBySlug(context.Background(), "x")
	require.NoError(t, err)

	eventually(t, func() bool {
		return h.dialer.streamCount() == 1 && h.svc.Stream().State() == StreamOpen
	}, "job stream did not open")
	return h.dialer.stream(0)
}

func TestService_OpenLoadsUnitCounts(t *testing.T) {
	h := newServiceHarness(t)
	require.NoError(t, h.svc.Open(context.Background()))

	eventually(t, func() bool {
		c := h.svc.Counts()
		return c.LegalUnits != nil && c.EstablishmentsWithLegalUnit != nil && c.EstablishmentsWithoutLegalUnit != nil
	}, "counts were not loaded")

	// A second Open does not reload.
	require.NoError(t, h.svc.Open(context.Background()))
	h.client.AssertNumberOfCalls(t, "CountUnits", 3)
}

func TestService_StreamUpdatesTrackedJob(t *testing.T) {
	h := newServiceHarness(t)
	s := h.loadJob(t)
	assert.Equal(t, "http://statbus.test/api/sse/import-jobs?ids=42", h.svc.Stream().SubscriptionURL())

	s.send(`{"verb":"UPDATE","import_job":{"id":42,"description":"renamed"}}`)
	eventually(t, func() bool {
		job := h.svc.CurrentJob()
		return job != nil && job.Description == "renamed"
	}, "update not applied")

	job := h.svc.CurrentJob()
	assert.Equal(t, "x", job.Slug)
	assert.Equal(t, int64(7), job.DefinitionID)
	assert.Equal(t, int64(7), h.svc.CurrentDefinition().ID)

	// The stream just spoke, so a pull refresh is skipped.
	require.NoError(t, h.svc.RefreshImportJob(context.Background()))
	h.client.AssertNotCalled(t, "GetJobByID", mock.Anything, mock.Anything)
}

func TestService_StreamDeleteClearsJob(t *testing.T) {
	h := newServiceHarness(t)
	s := h.loadJob(t)

	s.send(`{"verb":"DELETE","import_job":{"id":42}}`)
	eventually(t, func() bool { return h.svc.CurrentJob() == nil }, "job not cleared")

	assert.Nil(t, h.svc.CurrentDefinition())
	assert.Equal(t, StreamClosed, h.svc.Stream().State())
}

func TestService_LoadingSameJobKeepsSubscription(t *testing.T) {
	h := newServiceHarness(t)
	h.loadJob(t)

	_, err := h.svc.GetImportJobBySlug(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestService_CloseIsIdempotent(t *testing.T) {
	h := newServiceHarness(t)
	h.loadJob(t)

	h.svc.Close()
	h.svc.Close()
	assert.Equal(t, StreamClosed, h.svc.Stream().State())
}
