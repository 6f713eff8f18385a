// Package output renders search results, index statistics and status for
// the terminal.
package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/dshills/codegrep/pkg/types"
)

// Mode selects how search results are printed
type Mode int

const (
	// ModeHuman prints every matching source line under a per-file header
	ModeHuman Mode = iota
	// ModeCount prints per-file match counts and a total
	ModeCount
	// ModeFilesWithMatches prints only the matching paths
	ModeFilesWithMatches
	// ModeQuiet prints nothing
	ModeQuiet
)

// resultsRule separates the summary line from the per-file sections
const resultsRule = "===================="

// Printer writes search results in a grep-like format
type Printer struct {
	out      io.Writer
	errOut   io.Writer
	mode     Mode
	color    bool
	readFile func(string) ([]byte, error)
	hadError bool
}

// Option configures a Printer
type Option func(*Printer)

// WithMode sets the output mode
func WithMode(mode Mode) Option {
	return func(p *Printer) { p.mode = mode }
}

// WithColor enables lipgloss styling of headers and line numbers
func WithColor(color bool) Option {
	return func(p *Printer) { p.color = color }
}

// WithErrorWriter sets where file read errors are reported
func WithErrorWriter(w io.Writer) Option {
	return func(p *Printer) {
		if w != nil {
			p.errOut = w
		}
	}
}

// NewPrinter creates a printer writing to out
func NewPrinter(out io.Writer, opts ...Option) *Printer {
	p := &Printer{
		out:      out,
		errOut:   os.Stderr,
		mode:     ModeHuman,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HadError reports whether any file could not be read while printing
func (p *Printer) HadError() bool {
	return p.hadError
}

// PrintResults prints a result set according to the printer mode
func (p *Printer) PrintResults(rs *types.ResultSet) {
	switch p.mode {
	case ModeQuiet:
		return
	case ModeCount:
		p.printCounts(rs)
	case ModeFilesWithMatches:
		for _, path := range rs.Paths() {
			fmt.Fprintln(p.out, path)
		}
	default:
		p.printHuman(rs)
	}
}

func (p *Printer) printHuman(rs *types.ResultSet) {
	fmt.Fprintf(p.out, "Found %d references\n", rs.Total())
	fmt.Fprintln(p.out, style(dimStyle, p.color, resultsRule))
	fmt.Fprintln(p.out)

	for i, path := range rs.Paths() {
		if i > 0 {
			fmt.Fprintln(p.out, style(dimStyle, p.color, "---"))
			fmt.Fprintln(p.out)
		}

		matches := rs.Matches(path)
		fmt.Fprintf(p.out, "%s - %d matches\n", style(pathStyle, p.color, path), len(matches))

		data, err := p.readFile(path)
		if err != nil {
			p.errorf("Unable to read file %s: %v", path, err)
			continue
		}
		lines := splitLines(data)

		for _, m := range matches {
			for n := m.Span.StartLine; n <= m.Span.EndLine && n <= len(lines); n++ {
				if n < 1 {
					continue
				}
				fmt.Fprintf(p.out, "%s\t%s\n", style(lineNoStyle, p.color, fmt.Sprintf("%d", n)), lines[n-1])
			}
			fmt.Fprintln(p.out)
		}
	}
}

func (p *Printer) printCounts(rs *types.ResultSet) {
	table := tablewriter.NewWriter(p.out)
	table.SetHeader([]string{"Matches", "File"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})

	for _, path := range rs.Paths() {
		table.Append([]string{fmt.Sprintf("%d", len(rs.Matches(path))), path})
	}

	table.SetFooter([]string{
		fmt.Sprintf("%d", rs.Total()),
		fmt.Sprintf("Total Files %d", rs.Len()),
	})
	table.Render()
}

// Errorf reports an error on the error writer and marks the printer as failed
func (p *Printer) Errorf(format string, args ...interface{}) {
	p.errorf(format, args...)
}

func (p *Printer) errorf(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, style(errorStyle, p.color, fmt.Sprintf(format, args...)))
	p.hadError = true
}

// splitLines splits file content into lines without their terminators
func splitLines(data []byte) []string {
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// PrintKeys prints one key shape per line, or their number in count mode
func (p *Printer) PrintKeys(shapes []string) {
	if p.mode == ModeQuiet {
		return
	}
	if p.mode == ModeCount {
		fmt.Fprintf(p.out, "%d\n", len(shapes))
		return
	}
	for _, shape := range shapes {
		fmt.Fprintln(p.out, shape)
	}
}

// Heading prints a bold title line
func (p *Printer) Heading(title string) {
	fmt.Fprintln(p.out, style(headerStyle, p.color, title))
}
