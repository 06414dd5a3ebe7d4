package postgrest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

// query collects the filters of a single PostgREST request against one table.
type query struct {
	table  string
	params url.Values
}

func from(table string) *query { return &query{table: table, params: url.Values{}} }

func (q *query) selectCols(cols string) *query {
	q.params.Set("select", cols)
	return q
}

func (q *query) eq(col, val string) *query {
	q.params.Add(col, "eq."+val)
	return q
}

func (q *query) isNull(col string) *query {
	q.params.Add(col, "is.null")
	return q
}

func (q *query) notNull(col string) *query {
	q.params.Add(col, "not.is.null")
	return q
}

func (q *query) isFalse(col string) *query {
	q.params.Add(col, "is.false")
	return q
}

func (q *query) order(spec string) *query {
	q.params.Set("order", spec)
	return q
}

func (q *query) limit(n int) *query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

func (q *query) nullFilter(col string, f domain.NullFilter) *query {
	switch f {
	case domain.NullFilterIsNull:
		return q.isNull(col)
	case domain.NullFilterNotNull:
		return q.notNull(col)
	default:
		return q
	}
}

// encode renders the query string. PostgREST filter values must keep their
// dots and commas, which url.Values.Encode would escape.
func (q *query) encode() string {
	return strings.NewReplacer("%2C", ",", "%28", "(", "%29", ")", "%21", "!", "%2A", "*").
		Replace(q.params.Encode())
}

// parseContentRange extracts the total from a Content-Range header such as
// "0-24/3573" or "*/3573". An unknown total ("*/*") yields nil.
func parseContentRange(h string) (*int64, error) {
	if h == "" {
		return nil, nil
	}
	idx := strings.LastIndexByte(h, '/')
	if idx < 0 {
		return nil, fmt.Errorf("malformed Content-Range %q", h)
	}
	total := strings.TrimSpace(h[idx+1:])
	if total == "*" {
		return nil, nil
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed Content-Range %q: %w", h, err)
	}
	return &n, nil
}
