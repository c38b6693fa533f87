package util

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/txKV/lib/codec"
	"github.com/ValentinKolb/txKV/lib/engine"
	"github.com/ValentinKolb/txKV/lib/env"
	"github.com/ValentinKolb/txKV/lib/logging"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var (
	registryOnce sync.Once
	registry     *env.Registry
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupEnvironmentFlags adds the flags describing the environment to open
func SetupEnvironmentFlags(cmd *cobra.Command) {
	key := "path"
	cmd.PersistentFlags().String(key, "txkv.db", WrapString("Path of the environment (ignored for the memory engine)"))

	key = "engine"
	cmd.PersistentFlags().String(key, string(engine.ImplBolt), WrapString("Storage engine to use (bolt, pebble, leveldb, memory)"))

	key = "map-size"
	cmd.PersistentFlags().Int64(key, 1024, WrapString("Maximum size of the environment (in MiB, bolt only)"))

	key = "no-sync"
	cmd.PersistentFlags().Bool(key, false, WrapString("Do not flush to disk on every commit"))

	key = "compression"
	cmd.PersistentFlags().String(key, "none", WrapString("Compression of values (none, zstd, lz4)"))

	key = "compression-threshold"
	cmd.PersistentFlags().Int(key, codec.DefaultThreshold, WrapString("Values larger than this many bytes are compressed"))

	key = "batch-wait"
	cmd.PersistentFlags().Duration(key, 0, WrapString("How long the writer waits for more work before committing a batch (0 uses the default)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("txkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// InitLogging configures the package loggers from the log-level setting
func InitLogging() error {
	return logging.InitLoggers(viper.GetString("log-level"), nil)
}

// GetEnvOptions reads the environment options from viper
func GetEnvOptions() (env.Options, error) {
	opts := env.DefaultOptions()
	opts.Engine = engine.Implementation(viper.GetString("engine"))
	opts.MapSize = viper.GetInt64("map-size") << 20
	opts.NoSync = viper.GetBool("no-sync")
	if wait := viper.GetDuration("batch-wait"); wait > 0 {
		opts.Writer.MaxBatchWait = wait
	}

	switch algo := viper.GetString("compression"); algo {
	case "", "none":
	case string(codec.AlgorithmZstd), string(codec.AlgorithmLZ4):
		copts := codec.DefaultOptions()
		copts.Algorithm = codec.Algorithm(algo)
		copts.Threshold = viper.GetInt("compression-threshold")
		opts.Compression = &copts
	default:
		return opts, fmt.Errorf("invalid compression %s", algo)
	}
	return opts, nil
}

// OpenEnvironment opens the environment described by the configuration
func OpenEnvironment() (*env.Environment, error) {
	opts, err := GetEnvOptions()
	if err != nil {
		return nil, err
	}
	path := viper.GetString("path")
	if opts.Engine == engine.ImplMemory {
		path = ""
	}
	registryOnce.Do(func() { registry = env.NewRegistry() })
	return registry.Open(path, opts)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}
