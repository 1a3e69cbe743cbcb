package netx_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/monetutil/mapiproxy/netx"
)

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    netx.Endpoint
		wantErr bool
	}{
		{"bare port", "50000", netx.TCPEndpoint("", "50000"), false},
		{"host and port", "db.example.com:50000", netx.TCPEndpoint("db.example.com", "50000"), false},
		{"ipv4 literal", "127.0.0.1:50000", netx.TCPEndpoint("127.0.0.1", "50000"), false},
		{"bracketed ipv6", "[::1]:50000", netx.TCPEndpoint("::1", "50000"), false},
		{"unix path", "/tmp/mapi.sock", netx.UnixEndpoint("/tmp/mapi.sock"), false},
		{"empty", "", netx.Endpoint{}, true},
		{"missing port", "localhost", netx.Endpoint{}, true},
		{"port out of range", "localhost:99999", netx.Endpoint{}, true},
		{"unbracketed ipv6", "::1:50000", netx.Endpoint{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := netx.ParseEndpoint(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoint(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(netx.Endpoint{})); diff != "" {
				t.Errorf("ParseEndpoint(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestEndpointString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ep   netx.Endpoint
		want string
	}{
		{"tcp", netx.TCPEndpoint("localhost", "50000"), "localhost:50000"},
		{"ipv6", netx.TCPEndpoint("::1", "50000"), "[::1]:50000"},
		{"unix", netx.UnixEndpoint("/run/mapi.sock"), "/run/mapi.sock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.ep.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEndpointFamily(t *testing.T) {
	t.Parallel()

	if got := netx.TCPEndpoint("", "50000").Family(); got != netx.TCP {
		t.Errorf("tcp endpoint family = %v", got)
	}
	if got := netx.UnixEndpoint("/x").Family(); got != netx.Unix {
		t.Errorf("unix endpoint family = %v", got)
	}
}

func TestListenDialTCP(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	lis, err := netx.TCPEndpoint("127.0.0.1", "0").Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = lis.Close() }()

	host, port, err := net.SplitHostPort(lis.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- conn.Close()
	}()

	conn, err := netx.TCPEndpoint(host, port).Dial(ctx, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
	if err := <-done; err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestListenUnixModeAndUnlink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mapi.sock")
	lis, err := netx.UnixEndpoint(path).Listen(t.Context())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if got := fi.Mode().Perm(); got != 0o600 {
		t.Errorf("socket mode = %o, want 0600", got)
	}
	if got := lis.Path(); got != path {
		t.Errorf("Path() = %q, want %q", got, path)
	}

	if err := lis.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket path not unlinked: %v", err)
	}

	// Closing again must not fail on the already-removed path.
	if err := lis.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.Errorf("second close: %v", err)
	}
}

func TestDialRefusedClassification(t *testing.T) {
	t.Parallel()

	// Grab a port that nothing listens on.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(probe.Addr().String())
	_ = probe.Close()

	_, err = netx.TCPEndpoint(host, port).Dial(context.Background(), time.Second)
	if err == nil {
		t.Fatal("dial succeeded on a closed port")
	}
	var derr *netx.DialError
	if !errors.As(err, &derr) {
		t.Fatalf("error is not a *DialError: %v", err)
	}
	if derr.Kind != netx.DialRefused {
		t.Errorf("dial error kind = %v, want DialRefused", derr.Kind)
	}
}

func TestDialUnixMissingSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.sock")
	_, err := netx.UnixEndpoint(path).Dial(context.Background(), time.Second)
	if err == nil {
		t.Fatal("dial succeeded on a missing socket")
	}
	var derr *netx.DialError
	if !errors.As(err, &derr) {
		t.Fatalf("error is not a *DialError: %v", err)
	}
}
