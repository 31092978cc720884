package changer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// CommandResult is what an external command printed and how it exited
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandFunc runs name with args. env is added to the current environment.
// A non-zero exit is reported in CommandResult, not as an error; err is
// reserved for commands that could not be started or were interrupted.
type CommandFunc func(ctx context.Context, name string, args []string, env []string) (CommandResult, error)

// waitDelay bounds how long output pipes are drained after the child is killed
const waitDelay = 2 * time.Second

// ExecCommand runs a local program with os/exec. The child is killed when
// ctx is done.
func ExecCommand(ctx context.Context, name string, args []string, env []string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to run %s: %w", name, err)
	}

	return res, nil
}
