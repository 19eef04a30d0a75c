package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeExec(t *testing.T, mode string, gotArgs *[]string) {
	t.Helper()
	orig := execCommand
	t.Cleanup(func() { execCommand = orig })
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if gotArgs != nil {
			*gotArgs = append([]string{name}, args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "BAGQUEUE_HELPER_PROCESS="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	switch os.Getenv("BAGQUEUE_HELPER_PROCESS") {
	case "":
		return
	case "ok":
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, strings.Repeat("x", 1000)+"container exited 137")
		os.Exit(1)
	}
	os.Exit(3)
}

var action = &models.Action{ID: "a1", MissionID: "m1", TemplateID: "t1"}

func TestExecRunner_Success(t *testing.T) {
	var args []string
	fakeExec(t, "ok", &args)

	require.NoError(t, NewExecRunner("bagaction --gpu").Run(context.Background(), action))
	assert.Equal(t, []string{"bagaction", "--gpu", "--action", "a1", "--mission", "m1", "--template", "t1"}, args)
}

func TestExecRunner_FailureKeepsStderrTail(t *testing.T) {
	fakeExec(t, "fail", nil)

	err := NewExecRunner("bagaction").Run(context.Background(), action)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container exited 137")
	assert.Less(t, len(err.Error()), 700)
}

func TestExecRunner_Unconfigured(t *testing.T) {
	assert.Error(t, NewExecRunner("").Run(context.Background(), action))
}
