package importing

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	reconnectBaseDelay  = time.Second
	reconnectMultiplier = 1.5
	reconnectMaxDelay   = 30 * time.Second
	// reconnectJitter is the largest fraction of the delay added at random.
	reconnectJitter = 0.3
)

// reconnectBackoff yields the delay before each reconnection attempt: attempt n
// waits min(base·1.5^n, max) plus up to 30% jitter. The exponential part comes
// from an ExponentialBackOff without randomisation; jitter is only ever added,
// never subtracted.
type reconnectBackoff struct {
	exp    *backoff.ExponentialBackOff
	jitter func() float64
}

func newReconnectBackoff(clock backoff.Clock, jitter func() float64) *reconnectBackoff {
	if jitter == nil {
		jitter = rand.Float64
	}

	exp := &backoff.ExponentialBackOff{
		// The first attempt already waits base·1.5.
		InitialInterval:     time.Duration(float64(reconnectBaseDelay) * reconnectMultiplier),
		RandomizationFactor: 0,
		Multiplier:          reconnectMultiplier,
		MaxInterval:         reconnectMaxDelay,
		// Never give up; the manager abandons reconnects when the job changes.
		MaxElapsedTime: 0,
		Clock:          clock,
	}
	exp.Reset()

	return &reconnectBackoff{exp: exp, jitter: jitter}
}

// Next returns the delay for the next attempt and advances the sequence.
func (b *reconnectBackoff) Next() time.Duration {
	base := b.exp.NextBackOff()
	return base + time.Duration(b.jitter()*reconnectJitter*float64(base))
}

// Reset restarts the sequence at the first attempt.
func (b *reconnectBackoff) Reset() { b.exp.Reset() }
