// Package runner invokes the external action runtime.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

// Runner executes one action to completion. A nil error means DONE.
type Runner interface {
	Run(ctx context.Context, action *models.Action) error
}

// execCommand is a seam for tests.
var execCommand = exec.CommandContext

// maxStderr bounds how much runtime output is kept in the failure message.
const maxStderr = 512

// ExecRunner runs "<command> --action <id> --mission <id> --template <id>".
// Cancelling ctx kills the process.
type ExecRunner struct {
	command string
	args    []string
}

func NewExecRunner(command string) *ExecRunner {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return &ExecRunner{}
	}
	return &ExecRunner{command: fields[0], args: fields[1:]}
}

func (r *ExecRunner) Run(ctx context.Context, action *models.Action) error {
	if r.command == "" {
		return fmt.Errorf("no action runtime configured")
	}

	args := append(append([]string{}, r.args...),
		"--action", action.ID, "--mission", action.MissionID, "--template", action.TemplateID)
	var stderr bytes.Buffer
	cmd := execCommand(ctx, r.command, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		return fmt.Errorf("action runtime %s: %w: %s", r.command, err, msg)
	}
	return nil
}

var _ Runner = (*ExecRunner)(nil)
