package importing

import "context"

// JobRepository reads and creates import jobs. Lookups by key return
// ErrJobNotFound when no row matches.
type JobRepository interface {
	GetJobBySlug(ctx context.Context, slug string) (*ImportJob, error)
	GetJobByID(ctx context.Context, id int64) (*ImportJob, error)
	// InsertJob creates the row and returns it as stored by the server.
	InsertJob(ctx context.Context, req NewJobRequest) (*ImportJob, error)
	// ListPendingJobs returns jobs awaiting upload for definitions of the
	// given mode, newest first.
	ListPendingJobs(ctx context.Context, mode ImportMode) ([]PendingJob, error)
}

// DefinitionRepository reads import definitions. Lookups by key return
// ErrDefinitionNotFound when no row matches.
type DefinitionRepository interface {
	GetDefinitionBySlug(ctx context.Context, slug string) (*ImportDefinition, error)
	GetDefinitionByID(ctx context.Context, id int64) (*ImportDefinition, error)
	// ListDefinitions returns the non-custom definitions for mode.
	ListDefinitions(ctx context.Context, mode ImportMode) ([]ImportDefinition, error)
}

// UnitCounter runs count-only queries. A nil count means the server did not
// report one.
type UnitCounter interface {
	CountUnits(ctx context.Context, q CountQuery) (*int64, error)
}

// DataClient is the full data-access surface the import core consumes.
type DataClient interface {
	JobRepository
	DefinitionRepository
	UnitCounter
}

// ReadyState mirrors the lifecycle of a single stream connection.
type ReadyState int

const (
	ReadyStateConnecting ReadyState = iota
	ReadyStateOpen
	ReadyStateClosed
)

func (s ReadyState) String() string {
	switch s {
	case ReadyStateConnecting:
		return "connecting"
	case ReadyStateOpen:
		return "open"
	case ReadyStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventStream is one live subscription to job change events.
type EventStream interface {
	// URL identifies the subscription; it carries the job id in its "ids"
	// query parameter.
	URL() string
	// Next blocks until the next message arrives. It returns an error once the
	// stream failed or was closed; the stream is unusable afterwards.
	Next(ctx context.Context) (StreamEvent, error)
	// ReadyState reports whether the underlying connection is still usable.
	ReadyState() ReadyState
	// Close releases the connection and unblocks a pending Next. It must not
	// wait for Next to return and is safe to call more than once.
	Close() error
}

// StreamDialer opens event streams for a single job.
type StreamDialer interface {
	// SubscriptionURL returns the URL a stream for jobID would carry, without
	// connecting.
	SubscriptionURL(jobID int64) string
	Dial(ctx context.Context, jobID int64) (EventStream, error)
}
