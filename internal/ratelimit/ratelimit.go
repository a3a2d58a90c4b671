// Package ratelimit provides a stdlib-only token bucket rate limiter
// used by the FTP client to throttle transfer bandwidth.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// Limiter limits data transfer to a number of bytes per second using a
// token bucket with one second of burst capacity. A nil *Limiter performs
// no limiting, so callers can pass it through unconditionally.
type Limiter struct {
	rate       float64 // bytes per second
	burst      float64 // bucket capacity
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a limiter for the given bytes-per-second rate.
// Rates <= 0 return nil, which disables limiting.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:       rate,
		burst:      rate,
		tokens:     rate,
		lastUpdate: time.Now(),
	}
}

// refill adds tokens for the time elapsed since the last update.
// Callers must hold mu.
func (rl *Limiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastUpdate).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastUpdate = now
}

// take consumes n tokens, sleeping as needed. Waits are capped at one
// second per call so a single huge request cannot stall indefinitely.
func (rl *Limiter) take(n int) {
	if rl == nil || n <= 0 {
		return
	}

	rl.mu.Lock()
	rl.refill(time.Now())

	need := float64(n)
	if rl.tokens >= need {
		rl.tokens -= need
		rl.mu.Unlock()
		return
	}

	wait := time.Duration((need - rl.tokens) / rl.rate * float64(time.Second))
	if wait > time.Second {
		wait = time.Second
	}
	rl.mu.Unlock()

	time.Sleep(wait)

	rl.mu.Lock()
	rl.refill(time.Now())
	if rl.tokens >= need {
		rl.tokens -= need
	} else {
		rl.tokens = 0
	}
	rl.mu.Unlock()
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader wraps r so reads respect the limiter.
// A nil limiter returns r unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Small reads keep the observed rate close to the target
	const maxChunkSize = 8 * 1024
	if len(p) > maxChunkSize {
		p = p[:maxChunkSize]
	}

	r.limiter.take(len(p))
	return r.r.Read(p)
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter wraps w so writes respect the limiter.
// A nil limiter returns w unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

func (w *writer) Write(p []byte) (int, error) {
	const maxChunkSize = 64 * 1024

	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if chunk > maxChunkSize {
			chunk = maxChunkSize
		}

		// Consume tokens first to apply backpressure
		w.limiter.take(chunk)

		n, err := w.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
