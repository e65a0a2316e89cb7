package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{` _                              _ _        `, "#818cf8"},
	{`| |_ _   _ _ __ _ __  _ __ (_) | _____ `, "#a78bfa"},
	{`| __| | | | '__| '_ \| '_ \| | |/ / _ \`, "#c084fc"},
	{`| |_| |_| | |  | | | | |_) | |   <  __/`, "#e879f9"},
	{` \__|\__,_|_|  |_| |_| .__/|_|_|\_\___|`, "#f472b6"},
	{`                     |_|               `, "#fb7185"},
}

// PrintBanner writes the ASCII art banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
