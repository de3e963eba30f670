// Package target resolves a parsed request-line target string into the
// request-line forms §3 and §4.1 enumerate (abs_path, absoluteURI,
// asterisk, and the authority form CONNECT uses), and splits a Host
// header into its host and port parts. It is grounded on the teacher's
// own proxy URL parser (pkg/client/proxy_parser.go), which leans on
// net/url and strconv for exactly this kind of host:port decomposition.
package target

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/arcrelay/uaproxy/pkg/constants"
	"github.com/arcrelay/uaproxy/pkg/errors"
	"github.com/arcrelay/uaproxy/pkg/wire"
)

// normalizeHost converts a non-ASCII hostname to its punycode form via
// IDNA, latching the same 400 a malformed port does when the label is
// invalid. All-ASCII hosts are returned unchanged without ever invoking
// idna.Lookup.ToASCII, since that profile rejects or rewrites some
// all-ASCII inputs the bare hostname grammar accepts (e.g. labels with an
// underscore are rejected, upper-case letters are lowered), which would
// make this package stricter than plain ASCII Host handling.
func normalizeHost(host string) (string, error) {
	for i := 0; i < len(host); i++ {
		if host[i] > 127 {
			ascii, err := idna.Lookup.ToASCII(host)
			if err != nil {
				return "", errors.NewValidationError("normalize-host", "invalid internationalized hostname")
			}
			return ascii, nil
		}
	}
	return host, nil
}

// Resolved is the outcome of resolving one request-line target string,
// keyed by which of §3's forms it matched.
type Resolved struct {
	Form   wire.TargetForm
	Scheme string
	Host   string
	Port   int
	Path   string
}

// Resolve classifies and parses targetStr per §4.1's per-form transitions.
// It never itself latches 400 on failure; the caller does that on a
// non-nil error.
func Resolve(targetStr string) (Resolved, error) {
	switch {
	case targetStr == "*":
		return Resolved{Form: wire.FormAsterisk}, nil

	case strings.HasPrefix(targetStr, "/"):
		return Resolved{Form: wire.FormAbsPath, Path: targetStr}, nil

	case strings.Contains(targetStr, "://"):
		return resolveAbsoluteURI(targetStr)

	default:
		return resolveAuthority(targetStr)
	}
}

// resolveAbsoluteURI parses "scheme://host[:port][/path]", the form an
// absolute-URI request line (or a client talking through this engine as a
// classic forward proxy) uses.
func resolveAbsoluteURI(targetStr string) (Resolved, error) {
	u, err := url.Parse(targetStr)
	if err != nil {
		return Resolved{}, errors.NewFramingError("parse-target", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Resolved{}, errors.NewFramingError("parse-target", fmt.Errorf("absoluteURI missing scheme or host"))
	}

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return Resolved{}, err
	}
	port := constants.DefaultPort
	if p := u.Port(); p != "" {
		n, perr := strconv.Atoi(p)
		if perr != nil {
			return Resolved{}, errors.NewFramingError("parse-target", perr)
		}
		port = n
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if path == "" {
		path = "/"
	}

	return Resolved{
		Form:   wire.FormAbsoluteURI,
		Scheme: u.Scheme,
		Host:   host,
		Port:   port,
		Path:   path,
	}, nil
}

// resolveAuthority parses the bare "host:port" form a CONNECT target line
// uses (§3: "the scheme(...) form (as produced by CONNECT targets)").
func resolveAuthority(targetStr string) (Resolved, error) {
	host, port, err := ParseHostHeader(targetStr)
	if err != nil {
		return Resolved{}, errors.NewFramingError("parse-target", err)
	}
	return Resolved{Form: wire.FormAuthority, Host: host, Port: port}, nil
}

// ParseHostHeader splits a Host header (or CONNECT authority target)
// value at the first colon, per §4.1: "split value at the first `:`; set
// host ... and port ..., default 80". A port segment that fails to parse
// as a non-negative decimal integer is an error the caller latches as 400.
func ParseHostHeader(value string) (string, int, error) {
	idx := strings.IndexByte(value, ':')
	if idx < 0 {
		host, err := normalizeHost(value)
		if err != nil {
			return "", 0, err
		}
		return host, constants.DefaultPort, nil
	}

	rawHost := value[:idx]
	portStr := value[idx+1:]

	host, err := normalizeHost(rawHost)
	if err != nil {
		return "", 0, err
	}

	if portStr == "" {
		return host, constants.DefaultPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 {
		return "", 0, errors.NewValidationError("parse-host-header", "invalid port in Host header")
	}
	return host, port, nil
}
