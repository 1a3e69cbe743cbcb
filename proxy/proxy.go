// Package proxy implements the transparent relay engine: it accepts client
// connections, dials the forward endpoint, shuttles bytes both ways, applies
// the one-byte family-bridge adjustment, and publishes a typed event stream
// describing everything it observes on the wire.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/monetutil/mapiproxy/netx"
)

const (
	// eventBuffer bounds the event channel. Sends block when the consumer
	// lags; events are never dropped.
	eventBuffer = 256

	defaultDialTimeout = 10 * time.Second

	// defaultGrace is how long writers get to drain once shutdown begins.
	defaultGrace = 500 * time.Millisecond
)

// Proxy relays every accepted client connection to the forward endpoint.
type Proxy struct {
	listen  netx.Endpoint
	forward netx.Endpoint

	events      chan Event
	dialTimeout time.Duration
	grace       time.Duration

	lis       *netx.Listener
	closeOnce sync.Once
	wg        sync.WaitGroup
	nextID    uint64
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithDialTimeout overrides the forward dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.dialTimeout = d }
}

// WithGrace overrides the drain grace applied on shutdown.
func WithGrace(d time.Duration) Option {
	return func(p *Proxy) { p.grace = d }
}

// New creates a Proxy relaying connections accepted on listen to forward.
func New(listen, forward netx.Endpoint, opts ...Option) *Proxy {
	p := &Proxy{
		listen:      listen,
		forward:     forward,
		events:      make(chan Event, eventBuffer),
		dialTimeout: defaultDialTimeout,
		grace:       defaultGrace,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events returns the event channel. Serve closes it once accepting has
// stopped and the last pair has wound down, just before it returns.
func (p *Proxy) Events() <-chan Event { return p.events }

// Listen binds the listen endpoint.
func (p *Proxy) Listen(ctx context.Context) error {
	lis, err := p.listen.Listen(ctx)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	p.lis = lis
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (p *Proxy) Addr() net.Addr { return p.lis.Addr() }

// Serve accepts connections until ctx is cancelled or the listener fails.
// Each accepted connection runs as its own pair of relay goroutines; Serve
// waits for every pair to finish, then closes the event channel.
func (p *Proxy) Serve(ctx context.Context) error {
	if p.lis == nil {
		return errors.New("proxy: serve before listen")
	}

	// Unblock Accept when the context is cancelled. Closing the unix
	// listener also unlinks its socket path.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-stopped:
		}
	}()

	var serveErr error
	for {
		conn, err := p.lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			serveErr = fmt.Errorf("proxy: accept: %w", err)
			break
		}
		p.nextID++
		pr := newPair(p.nextID, conn, p.listen.Family(), p.forward, p.events, p.dialTimeout, p.grace)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			pr.run(ctx)
		}()
	}

	p.wg.Wait()
	close(p.events)
	return serveErr
}

// Close releases the listener. Safe to call more than once and concurrently
// with Serve.
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.lis != nil {
			err = multierr.Append(err, p.lis.Close())
		}
	})
	return err
}
