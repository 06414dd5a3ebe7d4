package importing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

func testTimeContexts() []domain.TimeContext {
	return []domain.TimeContext{
		{Ident: "r_year_prev", Scope: domain.ScopeQuery, ValidFrom: "2023-01-01", ValidTo: "2023-12-31"},
		{Ident: "r_year_curr", Scope: domain.ScopeInputAndQuery, ValidFrom: "2024-01-01", ValidTo: "2024-12-31"},
		{Ident: "r_year_next", Scope: domain.ScopeInput, ValidFrom: "2025-01-01", ValidTo: "2025-12-31"},
	}
}

func TestTimeContextSelector_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		def       *domain.TimeContext
		wantIdent string
	}{
		{name: "first available", def: nil, wantIdent: "r_year_curr"},
		{name: "global default", def: &domain.TimeContext{Ident: "r_year_next"}, wantIdent: "r_year_next"},
		{name: "default not input scoped", def: &domain.TimeContext{Ident: "r_year_prev"}, wantIdent: "r_year_curr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewTimeContextSelector()
			s.SetTimeContexts(testTimeContexts(), tt.def)

			snap := s.Snapshot()
			require.Len(t, snap.Available, 2)
			require.NotNil(t, snap.Selected)
			assert.Equal(t, tt.wantIdent, snap.Selected.Ident)
			assert.False(t, snap.UseExplicitDates)
		})
	}
}

func TestTimeContextSelector_EmptyListSelectsNothing(t *testing.T) {
	s := NewTimeContextSelector()
	s.SetTimeContexts(nil, nil)
	assert.Nil(t, s.Selected())
}

func TestTimeContextSelector_SetSelected(t *testing.T) {
	s := NewTimeContextSelector()
	s.SetTimeContexts(testTimeContexts(), nil)

	s.SetSelectedTimeContext("r_year_next")
	require.NotNil(t, s.Selected())
	assert.Equal(t, "2025-01-01", s.Selected().ValidFrom)

	s.SetSelectedTimeContext("r_year_prev")
	assert.Nil(t, s.Selected(), "query-only contexts cannot be selected")

	s.SetSelectedTimeContext("unknown")
	assert.Nil(t, s.Selected())

	// Reloading keeps an explicit choice even if it is not available.
	s.SetTimeContexts(testTimeContexts(), nil)
	assert.Nil(t, s.Selected())

	s.SetSelectedTimeContext("")
	s.SetTimeContexts(testTimeContexts(), nil)
	require.NotNil(t, s.Selected())
	assert.Equal(t, "r_year_curr", s.Selected().Ident)
}

func TestTimeContextSelector_ExplicitDates(t *testing.T) {
	s := NewTimeContextSelector()
	s.SetUseExplicitDates(true)
	s.SetExplicitDates(ptr("2024-01-01"), ptr("2024-03-31"))

	snap := s.Snapshot()
	assert.True(t, snap.UseExplicitDates)
	assert.Equal(t, "2024-01-01", *snap.ExplicitFrom)
	assert.Equal(t, "2024-03-31", *snap.ExplicitTo)

	s.SetUseExplicitDates(false)
	assert.False(t, s.Snapshot().UseExplicitDates)
}
