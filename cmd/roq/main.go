// Package main provides the entry point for the roq dataset builder.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/M2oDA-Lab/roq/cmd/roq/config"
	"github.com/M2oDA-Lab/roq/pkg/dataset"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roq",
		Short: "Query-plan dataset builder",
		Long: `roq turns labeled query plans into leakage-free train, validation and
test splits for learned query optimizers.

Raw plans are read from <labeled-data-dir>/labeled_query_plans_<files-id>.msgpack
and the processed splits are written to <root>/processed.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file path")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("root", "./", "dataset root directory")
	pf.String("files-id", "", "dataset identifier")
	pf.String("labeled-data-dir", "./labeled_data/", "directory of the labeled plan files")
	pf.String("manifest-dsn", "", "split manifest database (default <root>/processed/manifest.duckdb)")
	pf.Bool("no-manifest", false, "do not record runs in the split manifest")

	rootCmd.AddCommand(newProcessCmd(), newLoadCmd(), newInspectCmd(), newServeCmd(), newFetchCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "roq dataset builder\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	})
	return rootCmd
}

// addDatasetFlags registers the flags that shape a processing run.
func addDatasetFlags(fs *pflag.FlagSet) {
	fs.Int64("seed", 0, "seed for subsampling and splitting")
	fs.Int("num-samples", 0, "number of queries to subsample (all when unset)")
	fs.Float64("val-samples", dataset.DefaultValSamples, "validation queries, a fraction below 1 or an absolute count")
	fs.Float64("test-samples", dataset.DefaultTestSamples, "test queries, a fraction below 1 or an absolute count")
	fs.Float64("test-longrun-share", dataset.DefaultTestLongrunShare, "share of long-running queries sent to test")
	fs.Bool("derive-longrun-share", false, "derive the long-running test share from test-samples")
	fs.Bool("force-reload", false, "rebuild artifacts even when they exist")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type override struct {
	flag  string
	apply func(v *viper.Viper, c *config.Config)
}

// overrides maps flags and ROQ_ environment variables onto the config. Only
// values that were explicitly set replace the config file or defaults.
var overrides = []override{
	{"log-level", func(v *viper.Viper, c *config.Config) { c.LogLevel = v.GetString("log-level") }},
	{"root", func(v *viper.Viper, c *config.Config) { c.Dataset.Root = v.GetString("root") }},
	{"files-id", func(v *viper.Viper, c *config.Config) { c.Dataset.FilesID = v.GetString("files-id") }},
	{"labeled-data-dir", func(v *viper.Viper, c *config.Config) { c.Dataset.LabeledDataDir = v.GetString("labeled-data-dir") }},
	{"seed", func(v *viper.Viper, c *config.Config) { c.Dataset.Seed = v.GetInt64("seed") }},
	{"num-samples", func(v *viper.Viper, c *config.Config) {
		n := v.GetInt("num-samples")
		c.Dataset.NumSamples = &n
	}},
	{"val-samples", func(v *viper.Viper, c *config.Config) { c.Dataset.ValSamples = v.GetFloat64("val-samples") }},
	{"test-samples", func(v *viper.Viper, c *config.Config) { c.Dataset.TestSamples = v.GetFloat64("test-samples") }},
	{"test-longrun-share", func(v *viper.Viper, c *config.Config) {
		share := v.GetFloat64("test-longrun-share")
		c.Dataset.TestLongrunShare = &share
	}},
	{"derive-longrun-share", func(v *viper.Viper, c *config.Config) {
		if v.GetBool("derive-longrun-share") {
			c.Dataset.TestLongrunShare = nil
		}
	}},
	{"force-reload", func(v *viper.Viper, c *config.Config) { c.Dataset.ForceReload = v.GetBool("force-reload") }},
	{"no-split", func(v *viper.Viper, c *config.Config) { c.Dataset.NoSplit = v.GetBool("no-split") }},
	{"manifest-dsn", func(v *viper.Viper, c *config.Config) { c.Manifest.DSN = v.GetString("manifest-dsn") }},
	{"no-manifest", func(v *viper.Viper, c *config.Config) { c.Manifest.Enabled = !v.GetBool("no-manifest") }},
	{"metrics", func(v *viper.Viper, c *config.Config) { c.Metrics.Enabled = v.GetBool("metrics") }},
	{"metrics-address", func(v *viper.Viper, c *config.Config) { c.Metrics.Address = v.GetString("metrics-address") }},
	{"push-gateway", func(v *viper.Viper, c *config.Config) { c.Metrics.PushGateway = v.GetString("push-gateway") }},
	{"push-job", func(v *viper.Viper, c *config.Config) { c.Metrics.PushJob = v.GetString("push-job") }},
	{"address", func(v *viper.Viper, c *config.Config) { c.Serve.Address = v.GetString("address") }},
	{"max-message-size", func(v *viper.Viper, c *config.Config) { c.Serve.MaxMessageSize = v.GetInt64("max-message-size") }},
	{"shutdown-timeout", func(v *viper.Viper, c *config.Config) { c.Serve.ShutdownTimeout = v.GetDuration("shutdown-timeout") }},
	{"health", func(v *viper.Viper, c *config.Config) { c.Serve.Health = v.GetBool("health") }},
	{"reflection", func(v *viper.Viper, c *config.Config) { c.Serve.Reflection = v.GetBool("reflection") }},
	{"tls", func(v *viper.Viper, c *config.Config) { c.Serve.TLS.Enabled = v.GetBool("tls") }},
	{"tls-cert", func(v *viper.Viper, c *config.Config) { c.Serve.TLS.CertFile = v.GetString("tls-cert") }},
	{"tls-key", func(v *viper.Viper, c *config.Config) { c.Serve.TLS.KeyFile = v.GetString("tls-key") }},
	{"auth", func(v *viper.Viper, c *config.Config) { c.Serve.Auth.Enabled = v.GetBool("auth") }},
	{"auth-type", func(v *viper.Viper, c *config.Config) { c.Serve.Auth.Type = v.GetString("auth-type") }},
	{"jwt-secret", func(v *viper.Viper, c *config.Config) { c.Serve.Auth.JWTAuth.Secret = v.GetString("jwt-secret") }},
	{"jwt-issuer", func(v *viper.Viper, c *config.Config) { c.Serve.Auth.JWTAuth.Issuer = v.GetString("jwt-issuer") }},
	{"jwt-audience", func(v *viper.Viper, c *config.Config) { c.Serve.Auth.JWTAuth.Audience = v.GetString("jwt-audience") }},
	{"cache-size", func(v *viper.Viper, c *config.Config) { c.Serve.Cache.MaxSize = v.GetInt64("cache-size") }},
	{"cache-ttl", func(v *viper.Viper, c *config.Config) { c.Serve.Cache.TTL = v.GetDuration("cache-ttl") }},
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROQ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	for _, o := range overrides {
		if cmd.Flags().Lookup(o.flag) != nil && v.IsSet(o.flag) {
			o.apply(v, cfg)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			if i := strings.LastIndexByte(file, '/'); i >= 0 {
				short = file[i+1:]
			}
			return fmt.Sprintf("%s:%d", short, line)
		}
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	logger := zerolog.New(w).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "roq")

	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}
	return logger.Logger()
}
