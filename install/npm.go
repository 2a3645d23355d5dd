package install

import (
	"context"
	"errors"
	"os/exec"
)

// npmRunner shells out to npm. Output is combined stdout+stderr, captured
// for diagnostics only.
type npmRunner struct{}

func (npmRunner) Run(ctx context.Context, dir, name string, args ...string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, "npm", append([]string{name}, args...)...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), out, nil
		}
		return 0, out, err
	}
	return 0, out, nil
}
