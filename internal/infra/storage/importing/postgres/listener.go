package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/internal/infra/storage"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

// ImportJobChannel is the notification channel the import_job trigger
// publishes to.
const ImportJobChannel = "import_job"

const closeTimeout = 5 * time.Second

// ErrListenerClosed is returned by Next once the stream was closed locally.
var ErrListenerClosed = errors.New("listener closed")

// notification is the trigger payload.
type notification struct {
	Verb domain.Verb `json:"verb"`
	ID   int64       `json:"id"`
}

// ListenDialer subscribes to import job changes with LISTEN/NOTIFY. Each
// stream holds its own connection, opened with the pool's configuration.
type ListenDialer struct {
	pool *pgxpool.Pool

	logger *logger.Logger
	tracer trace.Tracer
}

var _ domain.StreamDialer = (*ListenDialer)(nil)

// NewListenDialer creates a ListenDialer for the database behind pool.
func NewListenDialer(pool *pgxpool.Pool, logger *logger.Logger, tracer trace.Tracer) *ListenDialer {
	return &ListenDialer{
		pool:   pool,
		logger: logger.With("component", "listen_dialer"),
		tracer: tracer,
	}
}

// SubscriptionURL identifies the subscription for jobID.
func (d *ListenDialer) SubscriptionURL(jobID int64) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     d.pool.Config().ConnConfig.Host,
		Path:     "/listen/" + ImportJobChannel,
		RawQuery: url.Values{"ids": []string{strconv.FormatInt(jobID, 10)}}.Encode(),
	}
	return u.String()
}

// Dial opens a dedicated connection and starts listening. Notifications for
// other jobs are filtered out.
func (d *ListenDialer) Dial(ctx context.Context, jobID int64) (domain.EventStream, error) {
	var conn *pgx.Conn
	attrs := dbAttributes(
		attribute.Int64("job_id", jobID),
		attribute.String("channel", ImportJobChannel),
	)
	err := storage.ExecuteAndTrace(ctx, d.tracer, "postgres.importing.listen", attrs, func(ctx context.Context) error {
		var err error
		conn, err = pgx.ConnectConfig(ctx, d.pool.Config().ConnConfig.Copy())
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ImportJobChannel}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return fmt.Errorf("failed to listen: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to import job changes (job_id: %d): %w", jobID, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &listenStream{
		url:     d.SubscriptionURL(jobID),
		jobID:   jobID,
		conn:    conn,
		ctx:     streamCtx,
		cancel:  cancel,
		results: make(chan readResult),
		done:    make(chan struct{}),
		logger:  d.logger,
	}
	s.state.Store(int32(domain.ReadyStateOpen))
	go s.read()

	d.logger.Debug(ctx, "listening for import job changes", "job_id", jobID)
	return s, nil
}

type readResult struct {
	ev  domain.StreamEvent
	err error
}

type listenStream struct {
	url   string
	jobID int64
	conn  *pgx.Conn

	ctx    context.Context
	cancel context.CancelFunc

	results chan readResult
	done    chan struct{}
	state   atomic.Int32
	once    sync.Once

	logger *logger.Logger
}

var _ domain.EventStream = (*listenStream)(nil)

func (s *listenStream) URL() string { return s.url }

func (s *listenStream) ReadyState() domain.ReadyState { return domain.ReadyState(s.state.Load()) }

// read owns the connection and closes it on exit.
func (s *listenStream) read() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.conn.Close(ctx)
	}()

	for {
		ev, ok, err := s.receive()
		if err != nil {
			s.state.Store(int32(domain.ReadyStateClosed))
		} else if !ok {
			continue
		}
		select {
		case s.results <- readResult{ev: ev, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// receive waits for one notification and expands it into a job event. ok is
// false when the notification is not for this stream's job or the row is
// already gone.
func (s *listenStream) receive() (domain.StreamEvent, bool, error) {
	n, err := s.conn.WaitForNotification(s.ctx)
	if err != nil {
		return domain.StreamEvent{}, false, err
	}

	var note notification
	if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
		s.logger.Warn(s.ctx, "ignoring malformed notification", "payload", n.Payload, "error", err)
		return domain.StreamEvent{}, false, nil
	}
	if note.ID != s.jobID {
		return domain.StreamEvent{}, false, nil
	}

	var row json.RawMessage
	if note.Verb == domain.VerbDelete {
		row = json.RawMessage(`{"id":` + strconv.FormatInt(note.ID, 10) + `}`)
	} else {
		if err := s.conn.QueryRow(s.ctx, selectJobByID, note.ID).Scan(&row); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.StreamEvent{}, false, nil
			}
			return domain.StreamEvent{}, false, fmt.Errorf("failed to load changed import job (id: %d): %w", note.ID, err)
		}
	}

	data, err := domain.EncodeJobEvent(note.Verb, row)
	if err != nil {
		return domain.StreamEvent{}, false, err
	}
	return domain.StreamEvent{Data: data}, true, nil
}

func (s *listenStream) Next(ctx context.Context) (domain.StreamEvent, error) {
	select {
	case <-ctx.Done():
		return domain.StreamEvent{}, ctx.Err()
	case <-s.done:
		return domain.StreamEvent{}, ErrListenerClosed
	case r := <-s.results:
		return r.ev, r.err
	}
}

// Close stops listening without waiting for the connection to close.
func (s *listenStream) Close() error {
	s.once.Do(func() {
		s.state.Store(int32(domain.ReadyStateClosed))
		close(s.done)
		s.cancel()
	})
	return nil
}
