// Package executil runs external build tools, relaying their output
// line-by-line to the console and the persistent run log.
package executil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"git.home.luguber.info/inful/enginesmith/internal/logfields"
	"github.com/gookit/color"
)

// maxLineSize bounds a single relayed chunk. Native build drivers
// occasionally emit very long linker command lines; anything longer is
// relayed in buffer-sized pieces rather than stalling the pipe.
const maxLineSize = 1024 * 1024

// Runner launches external commands with captured pipes. Stdout and stderr
// are drained concurrently by two cooperating readers so neither stream can
// block the other on a full buffer; ordering within each stream is
// preserved and no line is dropped.
type Runner struct {
	log    *RunLog
	stdout io.Writer
	stderr io.Writer
}

// NewRunner creates a runner mirroring output to the process console.
func NewRunner(log *RunLog) *Runner {
	return &Runner{log: log, stdout: os.Stdout, stderr: os.Stderr}
}

// NewRunnerWithOutput creates a runner mirroring output to the given
// writers instead of the process console.
func NewRunnerWithOutput(log *RunLog, stdout, stderr io.Writer) *Runner {
	return &Runner{log: log, stdout: stdout, stderr: stderr}
}

// Run launches the command in dir and blocks until it terminates, returning
// its exit code. An error is returned only when the process could not be
// started or observed at all; a non-zero exit is reported through the code.
// There is no timeout: a hung external tool hangs the run, which is
// acceptable for a one-shot local build tool.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout pipe for %s: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stderr pipe for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.relay(stdout, false)
	}()
	go func() {
		defer wg.Done()
		r.relay(stderr, true)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed waiting for %s: %w", name, err)
	}
	return cmd.ProcessState.ExitCode(), nil
}

// relay mirrors every line of one stream to the console and the run log.
// The stream must be read to EOF regardless of content, or the child
// blocks writing to a full pipe; a line longer than maxLineSize is
// relayed in pieces instead of aborting the read loop.
func (r *Runner) relay(stream io.Reader, isError bool) {
	reader := bufio.NewReaderSize(stream, maxLineSize)
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			r.emit(strings.TrimRight(string(chunk), "\r\n"), isError)
		}
		switch err {
		case nil, bufio.ErrBufferFull:
			continue
		case io.EOF:
			return
		default:
			slog.Warn("Output stream read failed", logfields.Error(err))
			_, _ = io.Copy(io.Discard, stream)
			return
		}
	}
}

// emit writes one line (or piece of an oversized line) to the console
// mirror and the run log. Error lines are colored so they stand out in
// interleaved output.
func (r *Runner) emit(line string, isError bool) {
	if isError {
		fmt.Fprintln(r.stderr, color.Red.Sprint(line))
	} else {
		fmt.Fprintln(r.stdout, line)
	}
	if r.log != nil {
		r.log.Append(line)
	}
}
