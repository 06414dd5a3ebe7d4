package importing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
	"github.com/ahrav/statbus-sync/pkg/common/timeutil"
)

var errFake = errors.New("bad gateway")

func TestDefinitionCatalog_Load(t *testing.T) {
	tests := []struct {
		name         string
		defs         []domain.ImportDefinition
		err          error
		wantSelected string
		wantErr      error
	}{
		{
			name: "prefers job provided",
			defs: []domain.ImportDefinition{
				{ID: 1, Slug: "legal_unit_source_dates", ValidTimeFrom: domain.ValidTimeSourceColumns},
				{ID: 2, Slug: "legal_unit_job_provided", ValidTimeFrom: domain.ValidTimeJobProvided},
			},
			wantSelected: "legal_unit_job_provided",
		},
		{
			name: "falls back to first",
			defs: []domain.ImportDefinition{
				{ID: 1, Slug: "a", ValidTimeFrom: domain.ValidTimeSourceColumns},
				{ID: 2, Slug: "b", ValidTimeFrom: domain.ValidTimeSourceColumns},
			},
			wantSelected: "a",
		},
		{
			name:    "none defined",
			defs:    []domain.ImportDefinition{},
			wantErr: domain.ErrDefinitionNotFound,
		},
		{
			name:    "request fails",
			err:     errFake,
			wantErr: errFake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockDataClient)
			client.On("ListDefinitions", mock.Anything, domain.ImportModeLegalUnit).Return(tt.defs, tt.err)
			catalog := NewDefinitionCatalog(NewStaticClientAccessor(client, logger.Noop()), logger.Noop(), noop.NewTracerProvider().Tracer("test"))

			err := catalog.Load(context.Background(), domain.ImportModeLegalUnit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, catalog.Available())
				assert.Nil(t, catalog.Selected())
				return
			}

			require.NoError(t, err)
			assert.Len(t, catalog.Available(), len(tt.defs))
			require.NotNil(t, catalog.Selected())
			assert.Equal(t, tt.wantSelected, catalog.Selected().Slug)
		})
	}
}

func TestDefinitionCatalog_Select(t *testing.T) {
	client := new(mockDataClient)
	client.On("ListDefinitions", mock.Anything, domain.ImportModeLegalUnit).Return([]domain.ImportDefinition{
		{ID: 1, Slug: "a", ValidTimeFrom: domain.ValidTimeJobProvided},
		{ID: 2, Slug: "b"},
	}, nil)
	catalog := NewDefinitionCatalog(NewStaticClientAccessor(client, logger.Noop()), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, catalog.Load(context.Background(), domain.ImportModeLegalUnit))

	require.NoError(t, catalog.Select("b"))
	assert.Equal(t, int64(2), catalog.Selected().ID)
	assert.ErrorIs(t, catalog.Select("zzz"), domain.ErrDefinitionNotFound)
	assert.Equal(t, int64(2), catalog.Selected().ID)
}

func TestPendingJobs_Refresh(t *testing.T) {
	clock := timeutil.NewMock(testStart)
	client := new(mockDataClient)
	pending := NewPendingJobs(NewStaticClientAccessor(client, logger.Noop()), clock, logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	assert.Equal(t, PendingJobsSnapshot{}, pending.Get(domain.ImportModeLegalUnit))

	jobs := []domain.PendingJob{
		{ImportJob: *mustJob(t, `{"id":2,"slug":"b","state":"waiting_for_upload"}`)},
		{ImportJob: *mustJob(t, `{"id":1,"slug":"a","state":"waiting_for_upload"}`)},
	}
	client.On("ListPendingJobs", mock.Anything, domain.ImportModeLegalUnit).Return(jobs, nil).Once()

	require.NoError(t, pending.Refresh(context.Background(), domain.ImportModeLegalUnit))
	snap := pending.Get(domain.ImportModeLegalUnit)
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, int64(2), snap.Jobs[0].ID)
	assert.False(t, snap.Loading)
	assert.NoError(t, snap.Err)
	assert.Equal(t, testStart, snap.LastFetched)

	// A failed refresh keeps the jobs it already had.
	clock.Advance(time.Minute)
	client.On("ListPendingJobs", mock.Anything, domain.ImportModeLegalUnit).Return(nil, errors.New("unauthorized")).Once()

	require.Error(t, pending.Refresh(context.Background(), domain.ImportModeLegalUnit))
	snap = pending.Get(domain.ImportModeLegalUnit)
	assert.Len(t, snap.Jobs, 2)
	assert.Error(t, snap.Err)
	assert.Equal(t, testStart, snap.LastFetched)

	// Modes are tracked separately.
	assert.Empty(t, pending.Get(domain.ImportModeEstablishmentFormal).Jobs)
}
