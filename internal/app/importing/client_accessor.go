package importing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

// ClientFactory builds the data-access client on first use.
type ClientFactory func(ctx context.Context) (domain.DataClient, error)

type clientHolder struct{ client domain.DataClient }

// ClientAccessor lazily creates the shared data client. Initialization is
// idempotent: concurrent callers may each build a client, but only the first one
// stored is ever handed out and the ready callbacks run exactly once.
type ClientAccessor struct {
	factory ClientFactory
	current atomic.Pointer[clientHolder]

	mu      sync.Mutex
	ready   bool
	onReady []func(context.Context, domain.DataClient)

	logger *logger.Logger
}

// NewClientAccessor creates an accessor that builds clients with factory.
func NewClientAccessor(factory ClientFactory, logger *logger.Logger) *ClientAccessor {
	return &ClientAccessor{
		factory: factory,
		logger:  logger.With("component", "client_accessor"),
	}
}

// NewStaticClientAccessor returns an accessor whose factory always yields client.
func NewStaticClientAccessor(client domain.DataClient, logger *logger.Logger) *ClientAccessor {
	return NewClientAccessor(func(context.Context) (domain.DataClient, error) { return client, nil }, logger)
}

// OnReady registers fn to run once a client becomes available. If the accessor
// is already ready, fn runs immediately on the caller's goroutine.
func (a *ClientAccessor) OnReady(ctx context.Context, fn func(context.Context, domain.DataClient)) {
	a.mu.Lock()
	if !a.ready {
		a.onReady = append(a.onReady, fn)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if h := a.current.Load(); h != nil {
		fn(ctx, h.client)
	}
}

// Ready reports whether a client has been initialized.
func (a *ClientAccessor) Ready() bool { return a.current.Load() != nil }

// Client returns the shared client, creating it on first use. It fails with
// ErrClientUnavailable when no client can be built.
func (a *ClientAccessor) Client(ctx context.Context) (domain.DataClient, error) {
	if h := a.current.Load(); h != nil {
		return h.client, nil
	}
	if a.factory == nil {
		return nil, domain.ErrClientUnavailable
	}

	client, err := a.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrClientUnavailable, err)
	}
	if client == nil {
		return nil, domain.ErrClientUnavailable
	}

	if !a.current.CompareAndSwap(nil, &clientHolder{client: client}) {
		return a.current.Load().client, nil
	}

	a.logger.Info(ctx, "data client initialized")
	a.fireReady(ctx, client)
	return client, nil
}

func (a *ClientAccessor) fireReady(ctx context.Context, client domain.DataClient) {
	a.mu.Lock()
	a.ready = true
	callbacks := a.onReady
	a.onReady = nil
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(ctx, client)
	}
}
