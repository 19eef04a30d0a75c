// Package config loads CLI settings: defaults, then an optional JSON file,
// then command-line flags applied by the cobra root command.
package config
