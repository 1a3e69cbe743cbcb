package mapi

import (
	"fmt"

	"github.com/monetutil/mapiproxy/render"
)

const hexRowLen = 16

// byteStyle classifies one byte for the hex dump; the same style is used in
// the hex cells and the ASCII gutter.
func byteStyle(c byte) render.Style {
	switch {
	case c >= '0' && c <= '9':
		return render.Digit
	case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		return render.Text
	case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		return render.Whitespace
	case c >= 0x20 && c < 0x7f:
		return render.Normal
	}
	return render.Control
}

func gutterChar(c byte) string {
	if c >= 0x20 && c < 0x7f {
		return string(rune(c))
	}
	return markCtl
}

// hexRowSpans renders one 16-byte row: offset, two 8-byte hex groups, ASCII
// gutter. off is the display offset of row[0]; hl (keyed like off) marks
// bytes to render in the Highlight style and may be nil.
func hexRowSpans(off int, row []byte, hl map[int]bool) []render.Span {
	spans := []render.Span{render.S(fmt.Sprintf("%08x  ", off), render.Normal)}

	for i := range hexRowLen {
		if i == 8 {
			spans = append(spans, render.S(" ", render.Normal))
		}
		if i < len(row) {
			st := byteStyle(row[i])
			if hl[off+i] {
				st = render.Highlight
			}
			spans = append(spans,
				render.S(fmt.Sprintf("%02x", row[i]), st),
				render.S(" ", render.Normal))
		} else {
			spans = append(spans, render.S("   ", render.Normal))
		}
	}

	spans = append(spans, render.S(" ", render.Normal))
	for i, c := range row {
		st := byteStyle(c)
		if hl[off+i] {
			st = render.Highlight
		}
		spans = append(spans, render.S(gutterChar(c), st))
	}
	return spans
}
