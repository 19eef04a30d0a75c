// Package flagx lets several flag sets share one command line. Each set picks
// out the arguments it defines and ignores the rest.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnvVar names the environment variable consulted when no -c/-config
// flag is given.
const ConfigEnvVar = "BAGQUEUE_CONFIG"

type boolFlag interface {
	IsBoolFlag() bool
}

// FilterArgs returns the arguments of args that name a flag defined in fs,
// each followed by its value when the value is a separate argument.
//
// Accepted forms are -name, --name, -name=value and -name value. Boolean
// flags never take the following argument as their value.
func FilterArgs(args []string, fs *flag.FlagSet) []string {
	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		name, inline, ok := splitFlag(args[i])
		if !ok {
			continue
		}
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		filtered = append(filtered, args[i])
		if inline || isBool(f) {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// Parse parses the subset of args that fs defines.
func Parse(fs *flag.FlagSet, args []string) error {
	return fs.Parse(FilterArgs(args, fs))
}

// ConfigPath returns the config file named by -c/-config in args, falling
// back to ConfigEnvVar. It returns "" when neither is set.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = Parse(fs, args)

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	return path
}

// splitFlag reports the flag name of arg and whether arg carries its value
// after '='.
func splitFlag(arg string) (name string, inline bool, ok bool) {
	if len(arg) < 2 || arg[0] != '-' || arg == "--" {
		return "", false, false
	}
	name = strings.TrimPrefix(arg[1:], "-")
	name, _, inline = strings.Cut(name, "=")
	return name, inline, name != ""
}

func isBool(f *flag.Flag) bool {
	b, ok := f.Value.(boolFlag)
	return ok && b.IsBoolFlag()
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
