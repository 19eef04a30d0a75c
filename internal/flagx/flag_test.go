package flagx

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("a", "", "")
	fs.String("working-type", "", "")
	fs.Int("file-workers", 0, "")
	fs.Bool("v", false, "")
	return fs
}

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate value", []string{"-a", ":50051", "-x", "1"}, []string{"-a", ":50051"}},
		{"inline value", []string{"-working-type=memory", "-c", "conf.json"}, []string{"-working-type=memory"}},
		{"double dash", []string{"--file-workers", "4"}, []string{"--file-workers", "4"}},
		{"order preserved", []string{"--file-workers=2", "-a", "x", "-file-workers", "3"},
			[]string{"--file-workers=2", "-a", "x", "-file-workers", "3"}},
		{"unknown flags and positionals dropped", []string{"-x", "1", "--y=2", "positional"}, []string{}},
		{"missing value at end", []string{"-a"}, []string{"-a"}},
		{"next argument is a flag", []string{"-a", "-v"}, []string{"-a", "-v"}},
		{"bool does not consume value", []string{"-v", "positional"}, []string{"-v"}},
		{"bare dashes ignored", []string{"-", "--", "-a", "x"}, []string{"-a", "x"}},
		{"empty", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, serverFlags()))
		})
	}
}

func TestParse_IgnoresForeignFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	poll := fs.Duration("poll-interval", time.Second, "")
	workers := fs.Int("file-workers", 1, "")

	err := Parse(fs, []string{"-c", "conf.json", "-poll-interval", "250ms", "--test.v", "-file-workers=8"})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, *poll)
	assert.Equal(t, 8, *workers)
}

func TestParse_BadValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.Duration("poll-interval", time.Second, "")

	assert.Error(t, Parse(fs, []string{"-poll-interval", "soon"}))
}

func TestConfigPath(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")

	assert.Equal(t, "conf.json", ConfigPath([]string{"-a", "x", "-c", "conf.json"}))
	assert.Equal(t, "alt.json", ConfigPath([]string{"--config=alt.json"}))
	assert.Equal(t, "second.json", ConfigPath([]string{"-config", "first.json", "-c", "second.json"}))
	assert.Equal(t, "", ConfigPath([]string{"-a", "x"}))

	t.Setenv(ConfigEnvVar, "/etc/bagqueue/server.json")
	assert.Equal(t, "/etc/bagqueue/server.json", ConfigPath(nil))
	assert.Equal(t, "cli.json", ConfigPath([]string{"-c", "cli.json"}))
}
