package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Short forms:
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-u string   S3 root user
//	-p string   S3 root password
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-l string   log level
//
// Storage and queue settings use long names (-working-bucket, -file-workers, ...).
// Durations are accepted in Go syntax ("15m", "2s").
//
// Arguments the set does not define (-c, test flags) are skipped by
// flagx.Parse.
func parseFlags(config *Config) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.Working.Type, "working-type", config.Working.Type, "working backend type (s3|filesystem|memory)")
	fs.StringVar(&config.Working.Bucket, "working-bucket", config.Working.Bucket, "working backend bucket")
	fs.StringVar(&config.Working.Root, "working-root", config.Working.Root, "working backend root directory")
	fs.StringVar(&config.Durable.Type, "durable-type", config.Durable.Type, "durable backend type (s3|filesystem|memory)")
	fs.StringVar(&config.Durable.Bucket, "durable-bucket", config.Durable.Bucket, "durable backend bucket")
	fs.StringVar(&config.Durable.Root, "durable-root", config.Durable.Root, "durable backend root directory")

	fs.DurationVar(&config.UploadURLExpiry, "upload-expiry", config.UploadURLExpiry, "presigned upload URL lifetime")
	fs.DurationVar(&config.UploadGracePeriod, "upload-grace", config.UploadGracePeriod, "grace period before unconfirmed uploads are canceled")
	fs.Float64Var(&config.CapacityThreshold, "capacity-threshold", config.CapacityThreshold, "used/total ratio above which uploads are refused")
	fs.IntVar(&config.FileWorkers, "file-workers", config.FileWorkers, "number of file workers")
	fs.IntVar(&config.ActionWorkers, "action-workers", config.ActionWorkers, "number of action workers")
	fs.DurationVar(&config.PollInterval, "poll-interval", config.PollInterval, "idle delay between claim attempts")
	fs.DurationVar(&config.SweepInterval, "sweep-interval", config.SweepInterval, "upload sweeper and claim reaper tick (0 disables)")
	fs.DurationVar(&config.ClaimLease, "claim-lease", config.ClaimLease, "age after which an unrenewed worker claim is reaped (0 disables)")

	fs.StringVar(&config.ScratchDir, "scratch-dir", config.ScratchDir, "scratch directory for worker artifacts")
	fs.StringVar(&config.ConverterCommand, "converter", config.ConverterCommand, "converter command")
	fs.StringVar(&config.RunnerCommand, "runner", config.RunnerCommand, "action runner command")

	if err := flagx.Parse(fs, os.Args[1:]); err != nil {
		panic(err)
	}

	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
}
