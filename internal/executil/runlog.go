package executil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// timestampLayout prefixes every captured line in the run log.
const timestampLayout = "2006-01-02 15:04:05"

// RunLog is the append-only log file for one orchestrator run. It is
// truncated when opened and accumulates every line observed from external
// tools for the lifetime of the run. Two stream readers feed it, so writes
// are serialized by a mutex.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenRunLog creates (or truncates) the run log at path.
func OpenRunLog(path string) (*RunLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	return &RunLog{file: file}, nil
}

// Append writes one line with a timestamp prefix.
func (l *RunLog) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "%s %s\n", time.Now().Format(timestampLayout), line)
}

// Close closes the underlying file.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
