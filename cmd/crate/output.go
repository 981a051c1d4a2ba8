package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// printer writes human readable command output.
type printer struct {
	w io.Writer

	green  func(a ...any) string
	yellow func(a ...any) string
	cyan   func(a ...any) string
	gray   func(a ...any) string
	red    func(a ...any) string
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:      w,
		green:  color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow: color.New(color.FgYellow).SprintFunc(),
		cyan:   color.New(color.FgCyan).SprintFunc(),
		gray:   color.New(color.FgHiBlack).SprintFunc(),
		red:    color.New(color.FgRed).SprintFunc(),
	}
}

func (p *printer) ok(format string, a ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.green("✓"), fmt.Sprintf(format, a...))
}

func (p *printer) fail(format string, a ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.red("✗"), fmt.Sprintf(format, a...))
}

func (p *printer) info(format string, a ...any) {
	fmt.Fprintf(p.w, "%s\n", fmt.Sprintf(format, a...))
}

// humanBytes formats n with a binary unit suffix.
func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
