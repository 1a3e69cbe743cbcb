package render

import "io"

// Plain renders the same layout as ANSI with all styles mapped to nothing.
type Plain struct {
	box
}

// NewPlain creates a no-color renderer writing to w.
func NewPlain(w io.Writer) *Plain {
	p := &Plain{}
	p.box = box{
		w:      w,
		styler: func(_ Style, s string) string { return s },
	}
	return p
}
