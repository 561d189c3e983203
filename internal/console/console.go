// Package console implements the numbered-menu prompts of the tool.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	indexStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Prompter reads answers line by line and writes menus
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer

	pending chan readResult // non-nil while a read is in flight
}

type readResult struct {
	line string
	err  error
}

// New creates a Prompter over in and out
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

// readLine reads one line into ch, which has room for it, so the goroutine
// ends as soon as the read does even if nobody is waiting
func (p *Prompter) readLine(ch chan<- readResult) {
	if p.in.Scan() {
		ch <- readResult{line: p.in.Text()}
		return
	}
	err := p.in.Err()
	if err == nil {
		err = io.EOF
	} else {
		err = fmt.Errorf("failed to read input: %w", err)
	}
	ch <- readResult{err: err}
}

// Ask prints question and returns the trimmed answer. io.EOF is returned when
// input is exhausted, ctx.Err() when ctx is done first. A line that arrives
// after ctx is done answers the next Ask.
func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprint(p.out, question)
	if p.pending == nil {
		p.pending = make(chan readResult, 1)
		go p.readLine(p.pending)
	}

	select {
	case r := <-p.pending:
		p.pending = nil
		if r.err != nil {
			return "", r.err
		}
		return strings.TrimSpace(r.line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// List prints a header followed by a 1-based numbered list
func (p *Prompter) List(header string, items []string) {
	fmt.Fprintln(p.out, render(titleStyle, header))
	for i, item := range items {
		fmt.Fprintf(p.out, "%s %s\n", indexStyle.Render(fmt.Sprintf("%d.", i+1)), item)
	}
}

// Println writes a plain line
func (p *Prompter) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

// Printf writes formatted text
func (p *Prompter) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Banner writes a highlighted line
func (p *Prompter) Banner(format string, a ...any) {
	fmt.Fprintln(p.out, render(titleStyle, fmt.Sprintf(format, a...)))
}

// Success writes a success line
func (p *Prompter) Success(format string, a ...any) {
	fmt.Fprintln(p.out, render(successStyle, fmt.Sprintf(format, a...)))
}

// Error writes an error line
func (p *Prompter) Error(format string, a ...any) {
	fmt.Fprintln(p.out, render(errorStyle, fmt.Sprintf(format, a...)))
}

// render keeps leading blank lines outside the style so they are not padded
func render(style lipgloss.Style, s string) string {
	text := strings.TrimLeft(s, "\n")
	return s[:len(s)-len(text)] + style.Render(text)
}

var (
	// ErrNotANumber means the answer could not be parsed as an integer
	ErrNotANumber = errors.New("please enter a valid number")
	// ErrOutOfRange means the number does not match a listed item
	ErrOutOfRange = errors.New("invalid choice")
)

// ParseIndex converts a 1-based answer into a 0-based index into n items
func ParseIndex(answer string, n int) (int, error) {
	choice, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return 0, ErrNotANumber
	}
	if choice < 1 || choice > n {
		return 0, ErrOutOfRange
	}
	return choice - 1, nil
}
