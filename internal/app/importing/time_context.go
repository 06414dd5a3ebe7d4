package importing

import (
	"slices"
	"sync"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

// TimeContextSelection is a point-in-time copy of the selector state.
type TimeContextSelection struct {
	Available        []domain.TimeContext
	Selected         *domain.TimeContext
	UseExplicitDates bool
	ExplicitFrom     *string
	ExplicitTo       *string
}

// TimeContextSelector tracks which valid-time window new jobs are created
// with. It holds no I/O; callers feed it the contexts they loaded.
type TimeContextSelector struct {
	mu               sync.RWMutex
	available        []domain.TimeContext
	selectedIdent    *string
	useExplicitDates bool
	explicitFrom     *string
	explicitTo       *string
}

// NewTimeContextSelector returns an empty selector.
func NewTimeContextSelector() *TimeContextSelector { return new(TimeContextSelector) }

// SetTimeContexts replaces the available contexts with the input-scoped subset
// of all. If nothing is selected yet, def is selected when it is available,
// otherwise the first available context.
func (s *TimeContextSelector) SetTimeContexts(all []domain.TimeContext, def *domain.TimeContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.available = domain.InputTimeContexts(all)
	if s.selectedIdent != nil || len(s.available) == 0 {
		return
	}

	ident := s.available[0].Ident
	if def != nil && s.indexLocked(def.Ident) >= 0 {
		ident = def.Ident
	}
	s.selectedIdent = &ident
}

// SetSelectedTimeContext selects the context named ident. An ident that is not
// among the available contexts leaves the selection empty; an empty ident
// clears it.
func (s *TimeContextSelector) SetSelectedTimeContext(ident string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ident == "" {
		s.selectedIdent = nil
		return
	}
	s.selectedIdent = &ident
}

// SetUseExplicitDates toggles explicit-dates mode.
func (s *TimeContextSelector) SetUseExplicitDates(use bool) {
	s.mu.Lock()
	s.useExplicitDates = use
	s.mu.Unlock()
}

// SetExplicitDates sets the start and end dates (YYYY-MM-DD) used in
// explicit-dates mode. Nil clears a date.
func (s *TimeContextSelector) SetExplicitDates(from, to *string) {
	s.mu.Lock()
	s.explicitFrom, s.explicitTo = from, to
	s.mu.Unlock()
}

// Selected returns the selected context, or nil when none is selected or the
// selected ident is not available.
func (s *TimeContextSelector) Selected() *domain.TimeContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedLocked()
}

// Snapshot returns a copy of the current state.
func (s *TimeContextSelector) Snapshot() TimeContextSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return TimeContextSelection{
		Available:        slices.Clone(s.available),
		Selected:         s.selectedLocked(),
		UseExplicitDates: s.useExplicitDates,
		ExplicitFrom:     s.explicitFrom,
		ExplicitTo:       s.explicitTo,
	}
}

func (s *TimeContextSelector) selectedLocked() *domain.TimeContext {
	if s.selectedIdent == nil {
		return nil
	}
	i := s.indexLocked(*s.selectedIdent)
	if i < 0 {
		return nil
	}
	tc := s.available[i]
	return &tc
}

func (s *TimeContextSelector) indexLocked(ident string) int {
	return slices.IndexFunc(s.available, func(tc domain.TimeContext) bool { return tc.Ident == ident })
}
