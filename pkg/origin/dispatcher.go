package origin

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/arcrelay/uaproxy/pkg/errors"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// staticOrigin is an Origin bound to one fixed upstream address. Submit
// bounds in-flight requests to maxConcurrent via a weighted semaphore,
// grounded on the bounded-dispatch use of golang.org/x/sync/semaphore
// elsewhere in the retrieved pack, rather than letting an origin worker
// pile up unbounded concurrent upstream dials.
type staticOrigin struct {
	addr string
	pool *pool
	sem  *semaphore.Weighted
}

// Submit acquires a dispatch slot and starts the worker's forward-and-
// stream goroutine. The returned Worker is usable immediately; the first
// Event arrives once the upstream reply's header block (and, for a
// non-chunked reply, its body) has been read, or as an EventError as soon
// as the attempt fails.
func (o *staticOrigin) Submit(req wire.Request, body []byte) (Worker, error) {
	if err := o.sem.Acquire(context.Background(), 1); err != nil {
		return nil, errors.NewOriginError("acquire-dispatch-slot", o.addr, err)
	}

	w := newWorker(o.addr, o.pool)
	go func() {
		defer o.sem.Release(1)
		w.run(req, body)
	}()
	return w, nil
}

// StaticDispatcher implements Dispatcher over a single configured upstream
// address. §6 names "the origin dispatcher" as an external collaborator
// without specifying its selection algorithm beyond GetClosestOrigin's
// synchronous contract; this engine's accompanying cmd binary is given
// exactly one upstream to proxy to, so "closest" degenerates to "the only
// one configured" — see DESIGN.md.
type StaticDispatcher struct {
	origin *staticOrigin
}

// NewStaticDispatcher builds a dispatcher forwarding every request to addr
// ("host:port"). maxConcurrent bounds simultaneous in-flight submissions;
// zero or negative selects a default of 64. dialTimeout bounds each
// upstream TCP dial; idleTimeout bounds how long an idle pooled connection
// is kept before the pool's reaper closes it (zero or negative selects the
// pool's own default).
func NewStaticDispatcher(addr string, maxConcurrent int64, dialTimeout, idleTimeout time.Duration) *StaticDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &StaticDispatcher{
		origin: &staticOrigin{
			addr: addr,
			pool: newPool(dialTimeout, idleTimeout),
			sem:  semaphore.NewWeighted(maxConcurrent),
		},
	}
}

// GetClosestOrigin always returns the single configured upstream.
func (d *StaticDispatcher) GetClosestOrigin() (Origin, error) {
	return d.origin, nil
}

// Close releases pooled connections and stops the pool's reaper.
func (d *StaticDispatcher) Close() {
	d.origin.pool.Close()
}
