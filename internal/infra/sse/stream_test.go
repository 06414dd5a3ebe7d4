package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

// eventServer streams whatever is written to frames and ends the response
// when frames is closed.
type eventServer struct {
	srv      *httptest.Server
	frames   chan string
	requests chan *http.Request
}

func newEventServer(t *testing.T) *eventServer {
	t.Helper()

	es := &eventServer{frames: make(chan string, 8), requests: make(chan *http.Request, 8)}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.requests <- r
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case frame, ok := <-es.frames:
				if !ok {
					return
				}
				_, _ = io.WriteString(w, frame)
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func newTestDialer(t *testing.T, appURL string) *Dialer {
	t.Helper()

	d, err := NewDialer(DialerConfig{AppURL: appURL, AccessToken: "secret"},
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return d
}

func TestDialer_SubscriptionURL(t *testing.T) {
	d := newTestDialer(t, "https://statbus.example/")
	assert.Equal(t, "https://statbus.example/api/sse/import-jobs?ids=42", d.SubscriptionURL(42))
}

func TestDialer_StreamDeliversEvents(t *testing.T) {
	es := newEventServer(t)
	d := newTestDialer(t, es.srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := d.Dial(ctx, 42)
	require.NoError(t, err)
	defer s.Close()

	req := <-es.requests
	assert.Equal(t, "/api/sse/import-jobs", req.URL.Path)
	assert.Equal(t, "42", req.URL.Query().Get("ids"))
	assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.NotEmpty(t, req.Header.Get("X-Subscription-Id"))

	assert.Equal(t, d.SubscriptionURL(42), s.URL())
	assert.Equal(t, domain.ReadyStateOpen, s.ReadyState())

	es.frames <- "event: heartbeat\ndata: {}\n\n"
	es.frames <- fmt.Sprintf("data: %s\n\n", `{"verb":"UPDATE","import_job":{"id":42}}`)

	ev, err := s.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ev.IsHeartbeat())

	ev, err = s.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verb":"UPDATE","import_job":{"id":42}}`, ev.Data)
}

func TestDialer_ServerEndingStreamIsAnError(t *testing.T) {
	es := newEventServer(t)
	d := newTestDialer(t, es.srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := d.Dial(ctx, 1)
	require.NoError(t, err)
	defer s.Close()

	close(es.frames)
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, domain.ReadyStateClosed, s.ReadyState())
}

func TestStream_CloseUnblocksNext(t *testing.T) {
	es := newEventServer(t)
	d := newTestDialer(t, es.srv.URL)

	s, err := d.Dial(context.Background(), 1)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	assert.Equal(t, domain.ReadyStateClosed, s.ReadyState())
}

func TestDialer_RejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no session", http.StatusUnauthorized)
			},
		},
		{
			name: "not an event stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = io.WriteString(w, "<html></html>")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestDialer(t, srv.URL).Dial(context.Background(), 1)
			assert.Error(t, err)
		})
	}
}
