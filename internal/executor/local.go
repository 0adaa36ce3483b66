package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/jarvisd/jarvis/internal/models"
)

// runLocal executes a command on the host the service runs on. Any sudo
// prefix is stripped: the service already runs with the privileges it
// needs, and sudo may not exist in the container image.
func runLocal(ctx context.Context, command string, timeout time.Duration) models.CommandResult {
	command = stripSudo(command)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := models.CommandResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = "command timed out after " + timeout.String()
		}
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}
	return result
}

func stripSudo(command string) string {
	trimmed := strings.TrimSpace(command)
	if strings.HasPrefix(trimmed, "sudo ") {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "sudo "))
	}
	return trimmed
}
