package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the copilotz banner with the copilot name and version.
func PrintBanner(w io.Writer, name, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"                  _ _       _       ", "#818cf8"},
		{"  ___ ___  _ __ (_) | ___ | |_ ____", "#a78bfa"},
		{" / __/ _ \\| '_ \\| | |/ _ \\| __|_  /", "#c084fc"},
		{"| (_| (_) | |_) | | | (_) | |_ / / ", "#e879f9"},
		{" \\___\\___/| .__/|_|_|\\___/ \\__/___|", "#f472b6"},
		{"          |_|                       ", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s (v%s)\n", termenv.String(name).Bold(), version)
	fmt.Fprintln(w, termenv.String("Type /help for commands, /exit to quit.").Faint())
	fmt.Fprintln(w)
}
