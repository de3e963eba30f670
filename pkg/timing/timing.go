// Package timing provides per-request performance measurement for the
// forwarding bridge: how long origin dial and first-byte took, plus the
// total time elapsed since the timer started.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures timing for one forwarded request.
type Metrics struct {
	// OriginDial is the time spent establishing (or reusing) the
	// connection to the origin worker's upstream.
	OriginDial time.Duration `json:"origin_dial"`

	// TTFB (Time To First Byte) is the time between StartTTFB and EndTTFB;
	// the origin worker brackets the wait from its request write to the
	// end of the upstream reply's header block.
	TTFB time.Duration `json:"ttfb"`

	// TotalTime is the time from NewTimer to the Metrics call. The origin
	// worker calls Metrics when it emits its reply event, so chunks,
	// trailer, and the write to the UA are not included.
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures the lifecycle of a single forwarded request.
type Timer struct {
	start      time.Time
	dialStart  time.Time
	dialEnd    time.Time
	ttfbStart  time.Time
	ttfbEnd    time.Time
}

// NewTimer starts a timing session at submission time.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartDial marks the beginning of the origin dial/acquire.
func (t *Timer) StartDial() { t.dialStart = time.Now() }

// EndDial marks the end of the origin dial/acquire.
func (t *Timer) EndDial() { t.dialEnd = time.Now() }

// StartTTFB marks when the bridge begins waiting for the origin's reply event.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks when the reply event arrives.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics returns the metrics accumulated so far. Safe to call before the
// reply completes; TotalTime reflects elapsed time up to the call.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.dialStart.IsZero() && !t.dialEnd.IsZero() {
		m.OriginDial = t.dialEnd.Sub(t.dialStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}

	return m
}

// String provides a human-readable representation of the metrics, for logging.
func (m Metrics) String() string {
	return fmt.Sprintf("dial=%v ttfb=%v total=%v", m.OriginDial, m.TTFB, m.TotalTime)
}
