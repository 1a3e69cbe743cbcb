package mapi_test

import (
	"testing"

	"github.com/monetutil/mapiproxy/mapi"
)

func TestIsText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want bool
	}{
		{"empty", nil, true},
		{"plain ascii", []byte("select 1;"), true},
		{"tab lf cr allowed", []byte("a\tb\nc\rd"), true},
		{"utf8", []byte("héllo wörld"), true},
		{"nul", []byte{'a', 0x00, 'b'}, false},
		{"bell", []byte{0x07}, false},
		{"del", []byte{0x7f}, false},
		{"invalid utf8", []byte{0xff, 0xfe}, false},
		{"escape byte", []byte{'a', 0x1b, 'b'}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mapi.IsText(tt.in); got != tt.want {
				t.Errorf("IsText(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
