package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/bagqueue/internal/flagx"
	"github.com/dmitrijs2005/bagqueue/internal/timex"
)

// JsonBackendConfig is the JSON form of BackendConfig.
type JsonBackendConfig struct {
	Type           string `json:"type"`
	Bucket         string `json:"bucket"`
	Root           string `json:"root"`
	CapacityBytes  uint64 `json:"capacity_bytes"`
	CapacityInodes uint64 `json:"capacity_inodes"`
}

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Unlike Config, every field is optional: only keys present in the file
// override the current values.
type JsonConfig struct {
	EndpointAddrGRPC  *string            `json:"endpoint_addr_grpc"`
	DatabaseDSN       *string            `json:"database_dsn"`
	SecretKey         *string            `json:"secret_key"`
	LogLevel          *string            `json:"log_level"`
	S3RootUser        *string            `json:"s3_root_user"`
	S3RootPassword    *string            `json:"s3_root_password"`
	S3Region          *string            `json:"s3_region"`
	S3BaseEndpoint    *string            `json:"s3_base_endpoint"`
	Working           *JsonBackendConfig `json:"working_backend"`
	Durable           *JsonBackendConfig `json:"durable_backend"`
	UploadURLExpiry   *timex.Duration    `json:"upload_url_expiry"`
	UploadGracePeriod *timex.Duration    `json:"upload_grace_period"`
	CapacityThreshold *float64           `json:"capacity_threshold"`
	FileWorkers       *int               `json:"file_workers"`
	ActionWorkers     *int               `json:"action_workers"`
	PollInterval      *timex.Duration    `json:"poll_interval"`
	SweepInterval     *timex.Duration    `json:"sweep_interval"`
	ClaimLease        *timex.Duration    `json:"claim_lease"`
	ScratchDir        *string            `json:"scratch_dir"`
	ConverterCommand  *string            `json:"converter_command"`
	RunnerCommand     *string            `json:"runner_command"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c/-config flags or the BAGQUEUE_CONFIG
// environment variable (see flagx.ConfigPath). If none is set, no JSON
// file is loaded. If the file cannot be read or contains invalid JSON, the
// function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.ScratchDir, c.ScratchDir)
	setString(&config.ConverterCommand, c.ConverterCommand)
	setString(&config.RunnerCommand, c.RunnerCommand)

	if c.Working != nil {
		config.Working = c.Working.toBackendConfig()
	}
	if c.Durable != nil {
		config.Durable = c.Durable.toBackendConfig()
	}
	if c.UploadURLExpiry != nil {
		config.UploadURLExpiry = c.UploadURLExpiry.Duration
	}
	if c.UploadGracePeriod != nil {
		config.UploadGracePeriod = c.UploadGracePeriod.Duration
	}
	if c.PollInterval != nil {
		config.PollInterval = c.PollInterval.Duration
	}
	if c.SweepInterval != nil {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.ClaimLease != nil {
		config.ClaimLease = c.ClaimLease.Duration
	}
	if c.CapacityThreshold != nil {
		config.CapacityThreshold = *c.CapacityThreshold
	}
	if c.FileWorkers != nil {
		config.FileWorkers = *c.FileWorkers
	}
	if c.ActionWorkers != nil {
		config.ActionWorkers = *c.ActionWorkers
	}
}

func (b *JsonBackendConfig) toBackendConfig() BackendConfig {
	return BackendConfig{
		Type:           b.Type,
		Bucket:         b.Bucket,
		Root:           b.Root,
		CapacityBytes:  b.CapacityBytes,
		CapacityInodes: b.CapacityInodes,
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
