// Package constants defines magic numbers and default values shared across
// the uaproxy engine.
package constants

import "time"

// Connection timeouts and limits.
const (
	DefaultOriginDialTimeout = 10 * time.Second
	DefaultOriginIdleTimeout = 90 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	HealthCheckInterval      = 30 * time.Second
)

// HTTP framing limits.
const (
	// MaxHeaderBytes caps the total bytes a single request's headers may
	// occupy before the header accumulator refuses further input and the
	// request is answered with 400 (§5 Resources, §8 invariant 7).
	MaxHeaderBytes = 64 * 1024

	// MaxContentLength is the largest Content-Length the origin worker
	// accepts on an upstream reply; a larger value fails the reply read
	// as an origin error. UA request bodies are not checked against it.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB

	// DefaultBodyMemLimit is the in-memory threshold before a body
	// accumulator spills to disk.
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB

	// DefaultPort is the port absorbed for an absoluteURI or Host header
	// with no explicit port (§3 Data Model).
	DefaultPort = 80
)

// OPTIONS handling (§4.1.1).
const (
	// DefaultBanner is the Server header value used when none is supplied
	// to the handler constructor.
	DefaultBanner = "uaproxy"
)

// AllowedMethods is the fixed method list this engine advertises for a
// server-wide OPTIONS (asterisk-form target) or a Max-Forwards: 0 OPTIONS.
var AllowedMethods = []string{"OPTIONS", "GET", "HEAD", "POST", "PUT", "DELETE", "TRACE"}
