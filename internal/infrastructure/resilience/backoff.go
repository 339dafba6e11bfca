package resilience

import (
	"math/rand/v2"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Backoff computes reconnect delays: exponential from Initial, capped at Max,
// then jittered by up to +/- Jitter of the delay.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is a fraction in [0, 1]
	Jitter float64
	// Rand returns a float in [0, 1); nil uses math/rand/v2
	Rand func() float64
}

// DefaultBackoff returns the reconnect policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Jitter:  0.2,
	}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	initial, max := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultBackoff().Initial
	}
	if max < initial {
		max = initial
	}

	// retryablehttp.DefaultBackoff is 2^attempt * min capped at max; it only
	// consults resp for 429/503 Retry-After, so nil is fine here.
	base := retryablehttp.DefaultBackoff(initial, max, attempt, nil)

	jitter := b.Jitter
	if jitter <= 0 {
		return base
	}
	if jitter > 1 {
		jitter = 1
	}
	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := float64(base) * jitter
	d := time.Duration(float64(base) - spread + 2*spread*rnd())
	if d > max {
		d = max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Window returns the bounds Delay(attempt) can fall in.
func (b Backoff) Window(attempt int) (time.Duration, time.Duration) {
	lo, hi := b, b
	lo.Rand = func() float64 { return 0 }
	hi.Rand = func() float64 { return 1 }
	return lo.Delay(attempt), hi.Delay(attempt)
}
