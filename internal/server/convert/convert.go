// Package convert invokes the external decode/convert capability that turns a
// downloaded log file into its channel list.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
)

// ErrFormatInvalid means the artifact itself could not be decoded. Any other
// error from Convert is an infrastructure failure.
var ErrFormatInvalid = fmt.Errorf("%w: format invalid", common.ErrConversion)

// ExitFormatInvalid is the exit status the converter uses to reject its input.
const ExitFormatInvalid = 2

// Converter decodes the file at path and reports its channels.
type Converter interface {
	Convert(ctx context.Context, path string) ([]models.Channel, error)
}

// execCommand is a seam for tests.
var execCommand = exec.CommandContext

// ExecConverter runs "<command> <path>" and expects a JSON document
// {"channels": [...]} on stdout.
type ExecConverter struct {
	command string
	args    []string
}

// NewExecConverter splits command on whitespace; the first field is the binary.
func NewExecConverter(command string) *ExecConverter {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return &ExecConverter{}
	}
	return &ExecConverter{command: fields[0], args: fields[1:]}
}

type output struct {
	Channels []models.Channel `json:"channels"`
}

func (c *ExecConverter) Convert(ctx context.Context, path string) ([]models.Channel, error) {
	if c.command == "" {
		return nil, errors.New("no converter configured")
	}

	var stdout, stderr bytes.Buffer
	cmd := execCommand(ctx, c.command, append(append([]string{}, c.args...), path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitFormatInvalid {
			return nil, fmt.Errorf("%w: %s", ErrFormatInvalid, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("converter %s: %w: %s", c.command, err, strings.TrimSpace(stderr.String()))
	}

	var out output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: decode converter output: %w", ErrFormatInvalid, err)
	}
	for i, ch := range out.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("%w: channel %d has no name", ErrFormatInvalid, i)
		}
	}
	return out.Channels, nil
}

var _ Converter = (*ExecConverter)(nil)
