// Package toolchain verifies the external tools the pipeline depends on
// before any step runs.
package toolchain

import (
	"errors"
	"fmt"
	"os/exec"
)

// ErrToolMissing signals that a required external tool is absent from the
// invocation environment. Fatal before the pipeline starts.
var ErrToolMissing = errors.New("required tool not found")

// Check resolves every named tool on PATH and reports the first one
// missing. Source control is handled in-process and is not checked here.
func Check(required []string) error {
	for _, tool := range required {
		if tool == "" {
			continue
		}
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", ErrToolMissing, tool)
		}
	}
	return nil
}
