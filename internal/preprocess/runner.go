// Package preprocess implements the preprocessor driver (spec §4.5).
// The concrete command-line invocation of cpp/fpp/gcc is explicitly out
// of scope for this system (spec §1): "specify only their interface".
// Runner is that interface; DefaultRunner's os/exec implementation is
// the thin, real default, swappable in tests.
package preprocess

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner invokes an external tool and reports its stderr on failure.
type Runner interface {
	Run(ctx context.Context, tool string, args []string) (stderr string, err error)
}

// DefaultRunner shells out via os/exec.
type DefaultRunner struct{}

func (DefaultRunner) Run(ctx context.Context, tool string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}
