// Package netx provides a uniform endpoint abstraction over TCP and
// Unix-domain sockets: address parsing, listening, dialing with error
// classification, and TCP out-of-band byte transfer.
package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Family is the socket family of an Endpoint.
type Family int

const (
	TCP Family = iota
	Unix
)

func (f Family) String() string {
	switch f {
	case TCP:
		return "tcp"
	case Unix:
		return "unix"
	}
	return fmt.Sprintf("UnknownFamily(%d)", int(f))
}

// Endpoint is a listen or dial target: a TCP host/port or a Unix socket path.
type Endpoint struct {
	family Family
	host   string // TCP; empty means wildcard on listen, localhost on dial
	port   string // TCP
	path   string // Unix
}

// TCPEndpoint builds a TCP endpoint from a host and a decimal port.
func TCPEndpoint(host, port string) Endpoint {
	return Endpoint{family: TCP, host: host, port: port}
}

// UnixEndpoint builds a Unix-domain endpoint from a filesystem path.
func UnixEndpoint(path string) Endpoint {
	return Endpoint{family: Unix, path: path}
}

// ParseEndpoint parses an address argument. Accepted forms:
//
//	50000            bare port
//	host:50000       DNS name or IPv4 literal
//	[::1]:50000      bracketed IPv6 literal
//	/path/to.sock    Unix-domain socket (absolute path)
func ParseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, errors.New("netx: empty address")
	}
	if strings.HasPrefix(s, "/") {
		return UnixEndpoint(s), nil
	}
	if isPort(s) {
		return TCPEndpoint("", s), nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("netx: parse address %q: %w", s, err)
	}
	if !isPort(port) {
		return Endpoint{}, fmt.Errorf("netx: parse address %q: invalid port %q", s, port)
	}
	return TCPEndpoint(host, port), nil
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0 && n <= 65535
}

// Family returns the endpoint's socket family.
func (e Endpoint) Family() Family { return e.family }

// Network returns the net package network name for the endpoint.
func (e Endpoint) Network() string { return e.family.String() }

func (e Endpoint) String() string {
	if e.family == Unix {
		return e.path
	}
	return net.JoinHostPort(e.host, e.port)
}

func (e Endpoint) listenAddr() string {
	if e.family == Unix {
		return e.path
	}
	return net.JoinHostPort(e.host, e.port)
}

func (e Endpoint) dialAddr() string {
	if e.family == Unix {
		return e.path
	}
	host := e.host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, e.port)
}

// Listener wraps a net.Listener and remembers a bound Unix socket path so it
// is unlinked exactly once on Close.
type Listener struct {
	net.Listener
	path string
}

// Path returns the bound Unix socket path, or "" for TCP listeners.
func (l *Listener) Path() string { return l.path }

func (l *Listener) Close() error {
	err := l.Listener.Close()
	if l.path != "" {
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
		l.path = ""
	}
	return err
}

// Listen binds the endpoint. Unix sockets are created with mode 0600 and
// their path is recorded for unlink on Close.
func (e Endpoint) Listen(ctx context.Context) (*Listener, error) {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, e.Network(), e.listenAddr())
	if err != nil {
		return nil, fmt.Errorf("netx: listen %s: %w", e, err)
	}
	l := &Listener{Listener: lis}
	if e.family == Unix {
		if err := os.Chmod(e.path, 0o600); err != nil {
			_ = lis.Close()
			_ = os.Remove(e.path)
			return nil, fmt.Errorf("netx: chmod %s: %w", e.path, err)
		}
		l.path = e.path
	}
	return l, nil
}

// DialErrorKind classifies why a dial failed.
type DialErrorKind int

const (
	DialRefused DialErrorKind = iota
	DialTimedOut
	DialUnreachable
	DialOther
)

func (k DialErrorKind) String() string {
	switch k {
	case DialRefused:
		return "connection refused"
	case DialTimedOut:
		return "timed out"
	case DialUnreachable:
		return "unreachable"
	}
	return "connect error"
}

// DialError reports a classified dial failure.
type DialError struct {
	Kind   DialErrorKind
	Target string
	Err    error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("netx: dial %s: %s: %v", e.Target, e.Kind, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Dial connects to the endpoint. Failures come back as *DialError.
func (e Endpoint) Dial(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, e.Network(), e.dialAddr())
	if err != nil {
		return nil, &DialError{Kind: classifyDial(err), Target: e.String(), Err: err}
	}
	return conn, nil
}

func classifyDial(err error) DialErrorKind {
	switch {
	case errors.Is(err, unix.ECONNREFUSED):
		return DialRefused
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ENETUNREACH):
		return DialUnreachable
	case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return DialTimedOut
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return DialTimedOut
	}
	return DialOther
}
