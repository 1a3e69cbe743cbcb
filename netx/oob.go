package netx

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ErrOOBUnsupported is returned for connections that cannot carry TCP urgent
// data (Unix-domain sockets).
var ErrOOBUnsupported = errors.New("netx: out-of-band data unsupported on this socket")

// SendOOB writes a single urgent byte to a TCP connection.
func SendOOB(conn net.Conn, b byte) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return ErrOOBUnsupported
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return fmt.Errorf("netx: send oob: %w", err)
	}
	var serr error
	cerr := rc.Control(func(fd uintptr) {
		serr = unix.Send(int(fd), []byte{b}, unix.MSG_OOB)
	})
	if cerr != nil {
		return fmt.Errorf("netx: send oob: %w", cerr)
	}
	if serr != nil {
		return fmt.Errorf("netx: send oob: %w", serr)
	}
	return nil
}

// RecvOOB attempts a non-blocking read of one urgent byte. ok is false when
// no urgent data is pending.
func RecvOOB(conn net.Conn) (b byte, ok bool, err error) {
	tc, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return 0, false, ErrOOBUnsupported
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return 0, false, fmt.Errorf("netx: recv oob: %w", err)
	}
	var buf [1]byte
	var serr error
	var n int
	cerr := rc.Control(func(fd uintptr) {
		n, _, serr = unix.Recvfrom(int(fd), buf[:], unix.MSG_OOB|unix.MSG_DONTWAIT)
	})
	if cerr != nil {
		return 0, false, fmt.Errorf("netx: recv oob: %w", cerr)
	}
	if serr != nil {
		// EAGAIN: no urgent data. EINVAL: no urgent mark on the stream.
		if errors.Is(serr, unix.EAGAIN) || errors.Is(serr, unix.EWOULDBLOCK) || errors.Is(serr, unix.EINVAL) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("netx: recv oob: %w", serr)
	}
	if n == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

// WaitOOB blocks until urgent data is pending on a TCP connection or the
// timeout passes. It returns true when POLLPRI fired. Callers loop and check
// their own stop condition between calls; the fd stays referenced for at most
// one timeout interval, so Close on the connection is delayed no longer than
// that.
func WaitOOB(conn net.Conn, timeout time.Duration) (bool, error) {
	tc, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return false, ErrOOBUnsupported
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("netx: wait oob: %w", err)
	}
	ms := int(timeout / time.Millisecond)
	var urgent bool
	var serr error
	cerr := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI}}
		for {
			n, perr := unix.Poll(fds, ms)
			if errors.Is(perr, unix.EINTR) {
				continue
			}
			if perr != nil {
				serr = perr
				return
			}
			if n > 0 {
				if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0 && fds[0].Revents&unix.POLLPRI == 0 {
					serr = unix.ECONNRESET
					return
				}
				urgent = fds[0].Revents&unix.POLLPRI != 0
			}
			return
		}
	})
	if cerr != nil {
		return false, fmt.Errorf("netx: wait oob: %w", cerr)
	}
	if serr != nil {
		return false, fmt.Errorf("netx: wait oob: %w", serr)
	}
	return urgent, nil
}
