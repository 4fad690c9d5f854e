// Package prompt separates interactive selection from pipeline execution:
// decisions are made against an abstract input source so they stay testable
// without a terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidSelection signals a user-provided index outside the offered
// range. It is fatal to the run; there is no re-prompt loop.
var ErrInvalidSelection = errors.New("selection out of range")

// Prompter reads answers from in and writes questions to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a prompter over the given streams.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Select prints a numbered option list and returns the zero-based index the
// user picked. Options are displayed one-based.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("%w: nothing to select from", ErrInvalidSelection)
	}

	fmt.Fprintln(p.out, label)
	for i, opt := range options {
		fmt.Fprintf(p.out, "  [%d] %s\n", i+1, opt)
	}
	fmt.Fprintf(p.out, "Enter choice [1-%d]: ", len(options))

	answer, err := p.readLine()
	if err != nil {
		return 0, fmt.Errorf("failed to read selection: %w", err)
	}
	choice, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidSelection, answer)
	}
	if choice < 1 || choice > len(options) {
		return 0, fmt.Errorf("%w: %d not in 1-%d", ErrInvalidSelection, choice, len(options))
	}
	return choice - 1, nil
}

// Ask prints a question and returns the trimmed answer, or def when the
// answer is empty.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question; empty input yields def.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(p.out, "%s [%s]: ", label, hint)
	answer, err := p.readLine()
	if err != nil {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
