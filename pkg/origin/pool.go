package origin

import (
	"net"
	"sync"
	"time"

	"github.com/arcrelay/uaproxy/pkg/constants"
)

// poolConfig mirrors the handful of knobs transport pooling actually needs
// for a single fixed upstream: how many idle connections to keep and how
// long before an idle one is reaped. The TLS, SOCKS, and proxy-chaining
// knobs the teacher's transport.Config carried have no home here (§1
// Non-goals: TLS; no upstream-proxy-chaining concept in this spec).
type poolConfig struct {
	MaxIdlePerHost int
	MaxIdleTime    time.Duration
}

func defaultPoolConfig(idleTimeout time.Duration) poolConfig {
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultOriginIdleTimeout
	}
	return poolConfig{MaxIdlePerHost: 4, MaxIdleTime: idleTimeout}
}

type pooledConn struct {
	conn     net.Conn
	lastUsed time.Time
}

// hostPool is the idle-connection list for one "host:port" address.
type hostPool struct {
	mu   sync.Mutex
	idle []*pooledConn
}

// pool is a trimmed version of the teacher's Transport: a dial timeout,
// per-host idle lists, and a background reaper. Dropped relative to the
// teacher: TLS upgrade, SOCKS4/5 and HTTP CONNECT proxy chaining, client
// certificates, SNI overrides — none apply to a cleartext-only proxy core.
type pool struct {
	mu         sync.Mutex
	hosts      map[string]*hostPool
	config     poolConfig
	dialer     net.Dialer
	stopReaper chan struct{}
}

func newPool(dialTimeout, idleTimeout time.Duration) *pool {
	p := &pool{
		hosts:      make(map[string]*hostPool),
		config:     defaultPoolConfig(idleTimeout),
		dialer:     net.Dialer{Timeout: dialTimeout},
		stopReaper: make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

func (p *pool) hostPoolFor(addr string) *hostPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp, ok := p.hosts[addr]
	if !ok {
		hp = &hostPool{}
		p.hosts[addr] = hp
	}
	return hp
}

// get returns a pooled idle connection for addr, or nil if none is available.
func (p *pool) get(addr string) net.Conn {
	hp := p.hostPoolFor(addr)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for len(hp.idle) > 0 {
		last := len(hp.idle) - 1
		pc := hp.idle[last]
		hp.idle = hp.idle[:last]
		if time.Since(pc.lastUsed) > p.config.MaxIdleTime {
			pc.conn.Close()
			continue
		}
		return pc.conn
	}
	return nil
}

// dial opens a fresh connection to addr, bypassing the idle pool.
func (p *pool) dial(addr string) (net.Conn, error) {
	return p.dialer.Dial("tcp", addr)
}

// release returns conn to addr's idle pool for reuse, subject to the
// per-host idle cap; beyond the cap the connection is closed outright.
func (p *pool) release(addr string, conn net.Conn) {
	hp := p.hostPoolFor(addr)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	if len(hp.idle) >= p.config.MaxIdlePerHost {
		conn.Close()
		return
	}
	hp.idle = append(hp.idle, &pooledConn{conn: conn, lastUsed: time.Now()})
}

// discard closes conn without returning it to the pool, for use after a
// connection has been observed to be in a bad state.
func (p *pool) discard(conn net.Conn) {
	conn.Close()
}

func (p *pool) reapLoop() {
	ticker := time.NewTicker(p.config.MaxIdleTime / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapOnce()
		case <-p.stopReaper:
			return
		}
	}
}

func (p *pool) reapOnce() {
	p.mu.Lock()
	pools := make([]*hostPool, 0, len(p.hosts))
	for _, hp := range p.hosts {
		pools = append(pools, hp)
	}
	p.mu.Unlock()

	for _, hp := range pools {
		hp.mu.Lock()
		fresh := hp.idle[:0]
		for _, pc := range hp.idle {
			if time.Since(pc.lastUsed) > p.config.MaxIdleTime {
				pc.conn.Close()
				continue
			}
			fresh = append(fresh, pc)
		}
		hp.idle = fresh
		hp.mu.Unlock()
	}
}

// Close stops the reaper and closes every idle connection.
func (p *pool) Close() {
	close(p.stopReaper)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hp := range p.hosts {
		hp.mu.Lock()
		for _, pc := range hp.idle {
			pc.conn.Close()
		}
		hp.idle = nil
		hp.mu.Unlock()
	}
}
