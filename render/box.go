package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/monetutil/mapiproxy/proxy"
)

// box holds the layout logic shared by the ANSI and plain renderers. The
// concrete types differ only in the styler they install.
type box struct {
	w      io.Writer
	styler func(Style, string) string

	err    error
	open   bool
	prefix string          // identity prefix of the open block
	cur    strings.Builder // partial content row, already styled
	curLen int             // raw (unstyled) length of cur
}

func (b *box) print(s string) {
	if b.err != nil {
		return
	}
	_, b.err = io.WriteString(b.w, s)
}

func (b *box) style(st Style, s string) string {
	if s == "" {
		return ""
	}
	return b.styler(st, s)
}

func (b *box) Err() error { return b.err }

func (b *box) Line(id uint64, dir proxy.Direction, spans ...Span) {
	var sb strings.Builder
	sb.WriteString("  ")
	sb.WriteString(identity(id, dir))
	sb.WriteString("  ")
	for _, sp := range spans {
		sb.WriteString(b.style(sp.Style, sp.Text))
	}
	sb.WriteByte('\n')
	b.print(sb.String())
}

func (b *box) Event(id uint64, style Style, text string) {
	b.print(fmt.Sprintf("%s #%d  %s\n", b.style(style, "•"), id, b.style(style, text)))
}

func (b *box) OpenBlock(id uint64, dir proxy.Direction, kind, header string) {
	if b.open {
		b.CloseBlock("")
	}
	b.open = true
	b.prefix = identity(id, dir)
	title := kind
	if header != "" {
		title = kind + " · " + header
	}
	b.print("┌╴" + b.prefix + "  " + b.style(Header, title) + "\n")
}

func (b *box) Content(text string, style Style) {
	if !b.open {
		return
	}
	for {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			break
		}
		b.cur.WriteString(b.style(style, text[:nl]))
		b.curLen += nl
		b.flushRow()
		text = text[nl+1:]
	}
	b.cur.WriteString(b.style(style, text))
	b.curLen += len(text)
}

func (b *box) flushRow() {
	b.print("│ " + b.prefix + "  " + b.cur.String() + "\n")
	b.cur.Reset()
	b.curLen = 0
}

func (b *box) CloseBlock(footer string) {
	if !b.open {
		return
	}
	if b.curLen > 0 || b.cur.Len() > 0 {
		b.flushRow()
	}
	line := "└╴" + b.prefix
	if footer != "" {
		line += "  " + b.style(Header, footer)
	}
	b.print(line + "\n")
	b.open = false
}
