package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/monetutil/mapiproxy/netx"
)

// readChunk bounds how much one relay turn reads, to keep render latency low.
const readChunk = 16 * 1024

// oobPollInterval bounds how long an OOB watcher holds the fd in poll, which
// is also the longest a watcher delays pair teardown.
const oobPollInterval = 250 * time.Millisecond

// handshakeByte is the first byte a client sends on a MonetDB unix socket to
// announce a normal (non-control) connection. TCP clients do not send it.
const handshakeByte = 0x30

// pair owns the two sockets of one proxied connection and the goroutines
// that service them. Events it publishes are ordered per connection: the
// final Closed is emitted only after every other goroutine has joined.
type pair struct {
	id           uint64
	client       net.Conn
	server       net.Conn
	clientFamily netx.Family
	forward      netx.Endpoint
	events       chan<- Event
	dialTimeout  time.Duration
	grace        time.Duration

	closing chan struct{} // closed when graceful shutdown began
}

func newPair(id uint64, client net.Conn, clientFamily netx.Family, forward netx.Endpoint, events chan<- Event, dialTimeout, grace time.Duration) *pair {
	return &pair{
		id:           id,
		client:       client,
		clientFamily: clientFamily,
		forward:      forward,
		events:       events,
		dialTimeout:  dialTimeout,
		grace:        grace,
		closing:      make(chan struct{}),
	}
}

func (pr *pair) publish(ev Event) {
	ev.ConnID = pr.id
	pr.events <- ev
}

// run drives the pair from accept to Closed.
func (pr *pair) run(ctx context.Context) {
	pr.publish(Event{
		Kind:  KindIncoming,
		Local: pr.client.LocalAddr().String(),
		Peer:  pr.client.RemoteAddr().String(),
	})
	pr.publish(Event{Kind: KindConnecting, Target: pr.forward.String()})

	server, err := pr.forward.Dial(ctx, pr.dialTimeout)
	if err != nil {
		pr.publish(Event{Kind: KindConnectFailed, Err: err})
		_ = pr.client.Close()
		pr.publish(Event{Kind: KindClosed})
		return
	}
	pr.server = server
	pr.publish(Event{Kind: KindConnected})

	// Deadline-based graceful close: stop reading immediately, give writers
	// the grace interval to drain, count the rest as discarded.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			close(pr.closing)
			now := time.Now()
			_ = pr.client.SetReadDeadline(now)
			_ = pr.server.SetReadDeadline(now)
			dl := now.Add(pr.grace)
			_ = pr.client.SetWriteDeadline(dl)
			_ = pr.server.SetWriteDeadline(dl)
		case <-stopWatch:
		}
	}()

	if !pr.bridge() {
		_ = pr.client.Close()
		_ = pr.server.Close()
		pr.publish(Event{Kind: KindClosed})
		return
	}

	var oobWG sync.WaitGroup
	oobStop := make(chan struct{})
	if _, isTCP := pr.client.(*net.TCPConn); isTCP {
		oobWG.Add(1)
		go func() {
			defer oobWG.Done()
			pr.watchOOB(pr.client, pr.server, Upstream, oobStop)
		}()
	}
	if _, isTCP := pr.server.(*net.TCPConn); isTCP {
		oobWG.Add(1)
		go func() {
			defer oobWG.Done()
			pr.watchOOB(pr.server, pr.client, Downstream, oobStop)
		}()
	}

	results := make(chan dirResult, 2)
	go func() { results <- pr.copy(Upstream, pr.client, pr.server) }()
	go func() { results <- pr.copy(Downstream, pr.server, pr.client) }()

	lostUp, lostDown := 0, 0
	for range 2 {
		r := <-results
		if r.dir == Upstream {
			lostUp = r.lost
		} else {
			lostDown = r.lost
		}
	}
	_ = pr.client.Close()
	_ = pr.server.Close()
	close(oobStop)
	oobWG.Wait()

	pr.publish(Event{Kind: KindClosed, LostUp: lostUp, LostDown: lostDown})
}

// bridge performs the one-byte family adjustment on the upstream direction
// before the relays start. It reports whether the pair can proceed.
func (pr *pair) bridge() bool {
	switch {
	case pr.clientFamily == netx.TCP && pr.forward.Family() == netx.Unix:
		// The unix server expects the handshake byte; the TCP client never
		// sent one. Inject it ahead of the first payload byte.
		if _, err := pr.server.Write([]byte{handshakeByte}); err != nil {
			pr.publish(Event{Kind: KindError, Dir: Upstream, Err: err})
			return false
		}
		pr.publish(Event{Kind: KindZeroByteInserted})
		return true

	case pr.clientFamily == netx.Unix && pr.forward.Family() == netx.TCP:
		// The unix client leads with the handshake byte; the TCP server must
		// not see it.
		var lead [1]byte
		if _, err := io.ReadFull(pr.client, lead[:]); err != nil {
			if !isClosedErr(err) {
				pr.publish(Event{Kind: KindError, Dir: Upstream, Err: err})
			}
			return false
		}
		pr.publish(Event{Kind: KindZeroByteStripped})
		if lead[0] != handshakeByte {
			pr.publish(Event{Kind: KindError, Dir: Upstream, Err: ErrUnexpectedLeadByte})
		}
		return true
	}
	return true
}

type dirResult struct {
	dir  Direction
	lost int
}

// copy relays one direction until EOF or a read error, publishing a Data
// event per chunk. A write failure discards the rest of the stream for this
// direction but keeps draining reads so the accounting and the peer
// direction stay intact.
func (pr *pair) copy(dir Direction, src, dst net.Conn) dirResult {
	buf := make([]byte, readChunk)
	lost := 0
	writeDead := false

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			pr.publish(Event{Kind: KindData, Dir: dir, Data: data})

			if writeDead {
				lost += n
			} else {
				wn, werr := dst.Write(buf[:n])
				if werr != nil {
					lost += n - wn
					writeDead = true
					if !isClosedErr(werr) && !pr.isClosing() {
						pr.publish(Event{Kind: KindError, Dir: dir, Err: werr})
					}
				}
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && !isClosedErr(rerr) && !pr.isClosing() {
				pr.publish(Event{Kind: KindError, Dir: dir, Err: rerr})
			}
			break
		}
	}

	pr.publish(Event{Kind: KindShutdownRead, Dir: dir})
	closeRead(src)
	closeWrite(dst)
	pr.publish(Event{Kind: KindShutdownWrite, Dir: dir, Lost: lost})
	return dirResult{dir: dir, lost: lost}
}

func (pr *pair) isClosing() bool {
	select {
	case <-pr.closing:
		return true
	default:
		return false
	}
}

// watchOOB polls one TCP socket for urgent data, reports each urgent byte
// and forwards it to the peer when the peer can carry it.
func (pr *pair) watchOOB(src, dst net.Conn, dir Direction, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		urgent, err := netx.WaitOOB(src, oobPollInterval)
		if err != nil {
			return
		}
		if !urgent {
			continue
		}
		b, ok, err := netx.RecvOOB(src)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		pr.publish(Event{Kind: KindOOB, Dir: dir, Byte: b})
		if err := netx.SendOOB(dst, b); err != nil {
			if errors.Is(err, netx.ErrOOBUnsupported) {
				pr.publish(Event{Kind: KindError, Dir: dir, Err: ErrOOBDropped})
			}
		}
	}
}

func closeRead(c net.Conn) {
	type reader interface{ CloseRead() error }
	if h, ok := c.(reader); ok {
		_ = h.CloseRead()
	}
}

func closeWrite(c net.Conn) {
	type writer interface{ CloseWrite() error }
	if h, ok := c.(writer); ok {
		_ = h.CloseWrite()
	}
}

func isClosedErr(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.EPIPE):
		return true
	}
	return strings.Contains(err.Error(), "closed")
}
