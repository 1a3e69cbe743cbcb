package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ANSI renders with Unicode box-drawing and ANSI SGR colors. The color
// profile is forced by the caller so output does not depend on environment
// sniffing.
type ANSI struct {
	box
}

// NewANSI creates a color renderer writing to w with the given profile.
func NewANSI(w io.Writer, profile termenv.Profile) *ANSI {
	re := lipgloss.NewRenderer(w)
	re.SetColorProfile(profile)

	styles := map[Style]lipgloss.Style{
		Normal:     re.NewStyle(),
		Header:     re.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		Text:       re.NewStyle().Foreground(lipgloss.Color("2")),
		Digit:      re.NewStyle().Foreground(lipgloss.Color("3")),
		Whitespace: re.NewStyle().Foreground(lipgloss.Color("4")),
		Control:    re.NewStyle().Faint(true).Foreground(lipgloss.Color("5")),
		Error:      re.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		Highlight:  re.NewStyle().Reverse(true),
	}

	a := &ANSI{}
	a.box = box{
		w: w,
		styler: func(st Style, s string) string {
			return styles[st].Render(s)
		},
	}
	return a
}
