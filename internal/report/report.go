// Package report prints upgrade progress for humans.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conn-castle/keg/internal/messages"
)

// Options controls the printer.
type Options struct {
	// Quiet drops notices, headings and preview lines. Caveats, warnings and
	// successes are always printed.
	Quiet bool
	// NoColor disables ANSI colors regardless of the terminal.
	NoColor bool
}

// Printer implements upgrade.Reporter on top of two writers.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	quiet  bool

	arrow   *color.Color
	bold    *color.Color
	notice  *color.Color
	warn    *color.Color
	success *color.Color
}

// New returns a Printer writing progress to out and warnings to errOut.
// Nil writers discard output.
func New(out io.Writer, errOut io.Writer, opts Options) *Printer {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	p := &Printer{
		out:     out,
		errOut:  errOut,
		quiet:   opts.Quiet,
		arrow:   color.New(color.FgBlue, color.Bold),
		bold:    color.New(color.Bold),
		notice:  color.New(color.FgYellow),
		warn:    color.New(color.FgYellow, color.Bold),
		success: color.New(color.FgGreen, color.Bold),
	}
	if opts.NoColor {
		for _, c := range []*color.Color{p.arrow, p.bold, p.notice, p.warn, p.success} {
			c.DisableColor()
		}
	}
	return p
}

// Notice prints an informational message.
func (p *Printer) Notice(msg string) {
	if p.quiet {
		return
	}
	_, _ = p.notice.Fprintln(p.out, msg)
}

// Heading prints "==> msg".
func (p *Printer) Heading(msg string) {
	if p.quiet {
		return
	}
	p.heading(p.arrow, msg)
}

// Line prints msg as is.
func (p *Printer) Line(msg string) {
	if p.quiet {
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}

// Caveats prints the caveats block for a package.
func (p *Printer) Caveats(name string, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	p.heading(p.arrow, fmt.Sprintf(messages.ReportCaveatsFmt, name))
	_, _ = fmt.Fprintln(p.out, text)
}

// Success prints a green completion line.
func (p *Printer) Success(msg string) {
	p.heading(p.success, msg)
}

// Warning prints msg to the error writer.
func (p *Printer) Warning(msg string) {
	_, _ = p.warn.Fprintln(p.errOut, msg)
}

func (p *Printer) heading(arrow *color.Color, msg string) {
	_, _ = fmt.Fprintf(p.out, "%s %s\n", arrow.Sprint(messages.ReportArrow), p.bold.Sprint(msg))
}
