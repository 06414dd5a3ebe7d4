package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

func readAll(t *testing.T, input string) []domain.StreamEvent {
	t.Helper()

	er := newEventReader(strings.NewReader(input))
	var out []domain.StreamEvent
	for {
		ev, err := er.next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestEventReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []domain.StreamEvent
	}{
		{
			name:  "single data line",
			input: "data: {\"verb\":\"UPDATE\"}\n\n",
			want:  []domain.StreamEvent{{Data: `{"verb":"UPDATE"}`}},
		},
		{
			name:  "multi-line data joined with newline",
			input: "data: first\ndata: second\n\n",
			want:  []domain.StreamEvent{{Data: "first\nsecond"}},
		},
		{
			name:  "named event",
			input: "event: heartbeat\ndata: ping\n\n",
			want:  []domain.StreamEvent{{Name: "heartbeat", Data: "ping"}},
		},
		{
			name:  "event name resets between events",
			input: "event: heartbeat\ndata: a\n\ndata: b\n\n",
			want:  []domain.StreamEvent{{Name: "heartbeat", Data: "a"}, {Data: "b"}},
		},
		{
			name:  "id persists",
			input: "id: 7\ndata: a\n\ndata: b\n\n",
			want:  []domain.StreamEvent{{ID: "7", Data: "a"}, {ID: "7", Data: "b"}},
		},
		{
			name:  "comments and retry ignored",
			input: ": keep-alive\nretry: 3000\ndata: x\n\n",
			want:  []domain.StreamEvent{{Data: "x"}},
		},
		{
			name:  "crlf line endings",
			input: "data: x\r\n\r\n",
			want:  []domain.StreamEvent{{Data: "x"}},
		},
		{
			name:  "no space after colon",
			input: "data:x\n\n",
			want:  []domain.StreamEvent{{Data: "x"}},
		},
		{
			name:  "event without data is dropped",
			input: "event: heartbeat\n\ndata: y\n\n",
			want:  []domain.StreamEvent{{Data: "y"}},
		},
		{
			name:  "trailing partial event discarded",
			input: "data: a\n\ndata: b",
			want:  []domain.StreamEvent{{Data: "a"}},
		},
		{
			name:  "leading byte order mark",
			input: "\ufeffdata: a\n\n",
			want:  []domain.StreamEvent{{Data: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, tt.input))
		})
	}
}
