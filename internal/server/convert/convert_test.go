package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec re-executes the test binary as the converter, running
// TestHelperProcess in the given mode.
func fakeExec(t *testing.T, mode string) {
	t.Helper()
	orig := execCommand
	t.Cleanup(func() { execCommand = orig })
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "BAGQUEUE_HELPER_PROCESS="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("BAGQUEUE_HELPER_PROCESS")
	if mode == "" {
		return
	}
	switch mode {
	case "ok":
		fmt.Println(`{"channels":[{"name":"/imu","type":"sensor_msgs/Imu","message_count":1000,"frequency":100},{"name":"/gps","type":"sensor_msgs/NavSatFix","message_count":10,"frequency":1}]}`)
		os.Exit(0)
	case "invalid":
		fmt.Fprintln(os.Stderr, "bad magic")
		os.Exit(ExitFormatInvalid)
	case "crash":
		fmt.Fprintln(os.Stderr, "segfault")
		os.Exit(1)
	case "garbage":
		fmt.Println("not json")
		os.Exit(0)
	case "nameless":
		fmt.Println(`{"channels":[{"type":"x"}]}`)
		os.Exit(0)
	}
	os.Exit(3)
}

func TestExecConverter_Channels(t *testing.T) {
	fakeExec(t, "ok")
	chans, err := NewExecConverter("bagconvert --stats").Convert(context.Background(), "/tmp/a.bag")
	require.NoError(t, err)
	require.Len(t, chans, 2)
	assert.Equal(t, "/imu", chans[0].Name)
	assert.Equal(t, int64(1000), chans[0].MessageCount)
	assert.InDelta(t, 1.0, chans[1].Frequency, 1e-9)
}

func TestExecConverter_FormatInvalid(t *testing.T) {
	for _, mode := range []string{"invalid", "garbage", "nameless"} {
		t.Run(mode, func(t *testing.T) {
			fakeExec(t, mode)
			_, err := NewExecConverter("bagconvert").Convert(context.Background(), "/tmp/a.bag")
			assert.ErrorIs(t, err, ErrFormatInvalid)
			assert.ErrorIs(t, err, common.ErrConversion)
		})
	}
}

func TestExecConverter_CrashIsNotFormatInvalid(t *testing.T) {
	fakeExec(t, "crash")
	_, err := NewExecConverter("bagconvert").Convert(context.Background(), "/tmp/a.bag")
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrConversion))
	assert.Contains(t, err.Error(), "segfault")
}

func TestExecConverter_Unconfigured(t *testing.T) {
	_, err := NewExecConverter("  ").Convert(context.Background(), "/tmp/a.bag")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrConversion)
}
