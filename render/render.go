// Package render is the output side of the inspector: a small sink
// vocabulary (standalone lines, framed blocks with styled content, control
// events) with two implementations that differ only in style emission.
package render

import (
	"fmt"

	"github.com/monetutil/mapiproxy/proxy"
)

// Style is an abstract span style; each renderer decides what it looks like.
type Style int

const (
	Normal Style = iota
	Header
	Text
	Digit
	Whitespace
	Control
	Error
	Highlight
)

// Span is a run of text rendered in one style.
type Span struct {
	Text  string
	Style Style
}

// S builds a Span.
func S(text string, style Style) Span { return Span{Text: text, Style: style} }

// Renderer is the side-effecting sink the inspector drives. Line emits one
// standalone line attributed to a connection and direction. OpenBlock begins
// a framed unit; Content adds styled text inside it, with "\n" starting a
// new bordered row; CloseBlock ends it. Event emits a control line.
//
// Renderers swallow no write errors: the first failure is kept and reported
// by Err, and later calls become no-ops.
type Renderer interface {
	Line(id uint64, dir proxy.Direction, spans ...Span)
	OpenBlock(id uint64, dir proxy.Direction, kind, header string)
	Content(text string, style Style)
	CloseBlock(footer string)
	Event(id uint64, style Style, text string)
	Err() error
}

// identity returns the fixed per-line prefix: the direction mark and the
// connection id.
func identity(id uint64, dir proxy.Direction) string {
	mark := "·"
	switch dir {
	case proxy.Upstream:
		mark = ">"
	case proxy.Downstream:
		mark = "<"
	}
	return fmt.Sprintf("%s%d", mark, id)
}
