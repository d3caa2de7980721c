package conn

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectBackoff yields full-jitter delays: uniform in [0, ceiling] where the
// ceiling doubles from base up to max. It never gives up.
type reconnectBackoff struct {
	exp    *backoff.ExponentialBackOff
	jitter func(time.Duration) time.Duration
}

func newReconnectBackoff(base, max time.Duration, jitter func(time.Duration) time.Duration) *reconnectBackoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &reconnectBackoff{exp: exp, jitter: jitter}
}

// ceiling returns the next ceiling without jitter.
func (b *reconnectBackoff) ceiling() time.Duration {
	d := b.exp.NextBackOff()
	if d == backoff.Stop || d > b.exp.MaxInterval {
		d = b.exp.MaxInterval
	}
	return d
}

func (b *reconnectBackoff) Next() time.Duration {
	return b.jitter(b.ceiling())
}

func (b *reconnectBackoff) Reset() { b.exp.Reset() }

func fullJitter(ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
