// SPDX-License-Identifier: MIT

package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// runner abstracts subprocess execution so tests can stub the tool.
type runner interface {
	run(ctx context.Context, args []string) (stdout, stderr []byte, exitCode int, err error)
}

// execRunner invokes the real binary. Cancellation of ctx terminates the
// process; WaitDelay bounds how long we wait for pipes to drain after the
// kill.
type execRunner struct {
	bin string
}

func (r execRunner) run(ctx context.Context, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...) // #nosec G204 -- args are built internally
	cmd.WaitDelay = 10 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is reported via exitCode; the caller decides
			// whether partial output is acceptable.
			return stdout.Bytes(), stderr.Bytes(), exitCode, nil
		}
		return stdout.Bytes(), stderr.Bytes(), exitCode, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}
