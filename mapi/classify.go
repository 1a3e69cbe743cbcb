package mapi

import (
	"unicode/utf8"

	"github.com/monetutil/mapiproxy/render"
)

// Visible markers for control bytes in text output.
const (
	markTab = "→"
	markLF  = "↵"
	markCR  = "↵"
	markCtl = "·"
)

// IsText reports whether b renders as text: valid UTF-8 containing no
// control bytes other than TAB, LF and CR.
func IsText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c == 0x7f {
			return false
		}
	}
	return true
}

// textSpans renders payload bytes as styled spans: plain runs in the Text
// style, control markers in the Control style. When breakLines is set an LF
// also starts a new output row; raw mode passes false to keep one chunk on
// one line. hl marks byte offsets to render in the Highlight style (the
// block-header positions in raw mode); it may be nil.
func textSpans(b []byte, breakLines bool, hl map[int]bool) []render.Span {
	var spans []render.Span
	flush := func(run []byte) {
		if len(run) > 0 {
			spans = append(spans, render.S(string(run), render.Text))
		}
	}

	var run []byte
	for i, c := range b {
		if hl[i] {
			flush(run)
			run = nil
			spans = append(spans, render.S(escapeByte(c, false), render.Highlight))
			continue
		}
		switch c {
		case '\t':
			flush(run)
			run = nil
			spans = append(spans, render.S(markTab, render.Control))
		case '\n':
			flush(run)
			run = nil
			if breakLines {
				spans = append(spans, render.S(markLF+"\n", render.Control))
			} else {
				spans = append(spans, render.S(markLF, render.Control))
			}
		case '\r':
			flush(run)
			run = nil
			spans = append(spans, render.S(markCR, render.Control))
		default:
			if c < 0x20 || c == 0x7f {
				flush(run)
				run = nil
				spans = append(spans, render.S(markCtl, render.Control))
			} else {
				run = append(run, c)
			}
		}
	}
	flush(run)
	return spans
}

// escapeByte renders one byte with the text-mode markers. When breakLines is
// set an LF marker is followed by a newline.
func escapeByte(c byte, breakLines bool) string {
	switch c {
	case '\t':
		return markTab
	case '\n':
		if breakLines {
			return markLF + "\n"
		}
		return markLF
	case '\r':
		return markCR
	}
	if c < 0x20 || c == 0x7f {
		return markCtl
	}
	return string(rune(c))
}
