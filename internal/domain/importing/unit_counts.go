package importing

import "fmt"

// UnitKind names one of the entity counts shown alongside an import.
type UnitKind string

const (
	UnitKindLegalUnits                     UnitKind = "legalUnits"
	UnitKindEstablishmentsWithLegalUnit    UnitKind = "establishmentsWithLegalUnit"
	UnitKindEstablishmentsWithoutLegalUnit UnitKind = "establishmentsWithoutLegalUnit"
)

// AllUnitKinds lists every count the aggregator maintains.
var AllUnitKinds = []UnitKind{
	UnitKindLegalUnits,
	UnitKindEstablishmentsWithLegalUnit,
	UnitKindEstablishmentsWithoutLegalUnit,
}

// NullFilter restricts a count query on whether a column is null.
type NullFilter int

const (
	NullFilterNone NullFilter = iota
	NullFilterIsNull
	NullFilterNotNull
)

func (f NullFilter) String() string {
	switch f {
	case NullFilterIsNull:
		return "is_null"
	case NullFilterNotNull:
		return "not_null"
	default:
		return "none"
	}
}

// CountQuery is a count-only query: no rows are returned, only how many match.
type CountQuery struct {
	Table  string
	Column string
	Filter NullFilter
}

// CountQuery returns the query that counts units of this kind.
func (k UnitKind) CountQuery() (CountQuery, error) {
	switch k {
	case UnitKindLegalUnits:
		return CountQuery{Table: "legal_unit"}, nil
	case UnitKindEstablishmentsWithLegalUnit:
		return CountQuery{Table: "establishment", Column: "legal_unit_id", Filter: NullFilterNotNull}, nil
	case UnitKindEstablishmentsWithoutLegalUnit:
		return CountQuery{Table: "establishment", Column: "legal_unit_id", Filter: NullFilterIsNull}, nil
	default:
		return CountQuery{}, fmt.Errorf("%w: %q", ErrUnknownUnitKind, string(k))
	}
}

// UnitCounts holds the three cached counts. A nil entry has not been loaded yet.
type UnitCounts struct {
	LegalUnits                     *int64 `json:"legalUnits"`
	EstablishmentsWithLegalUnit    *int64 `json:"establishmentsWithLegalUnit"`
	EstablishmentsWithoutLegalUnit *int64 `json:"establishmentsWithoutLegalUnit"`
}

// Get returns the count stored for kind.
func (c UnitCounts) Get(kind UnitKind) *int64 {
	switch kind {
	case UnitKindLegalUnits:
		return c.LegalUnits
	case UnitKindEstablishmentsWithLegalUnit:
		return c.EstablishmentsWithLegalUnit
	case UnitKindEstablishmentsWithoutLegalUnit:
		return c.EstablishmentsWithoutLegalUnit
	default:
		return nil
	}
}

// With returns a copy of c where only kind is set to n.
func (c UnitCounts) With(kind UnitKind, n int64) UnitCounts {
	switch kind {
	case UnitKindLegalUnits:
		c.LegalUnits = &n
	case UnitKindEstablishmentsWithLegalUnit:
		c.EstablishmentsWithLegalUnit = &n
	case UnitKindEstablishmentsWithoutLegalUnit:
		c.EstablishmentsWithoutLegalUnit = &n
	}
	return c
}
