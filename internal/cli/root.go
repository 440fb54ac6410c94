// Package cli implements the clofast command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clofast/clofast/internal/config"
)

// version is overridden at build time with -ldflags "-X ...cli.version=...".
var version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clofast",
	Short: "Recurring document processing for profiles",
	Long: `Clofast keeps document profiles and processes their documents on a
recurring schedule.

A profile's recurrence is given as a reference timestamp plus a frequency
(daily, weekly, monthly, intraday) or as a raw cron expression, and is
compiled into a five-field trigger whose weekday field counts from Monday=0.

Start the server:
  clofast serve

Preview a recurrence:
  clofast compile --frequency weekly --date 2025-02-28T14:30:00Z`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(config.LoggingConfig{
			Level:     config.DefaultLogLevel,
			Format:    config.DefaultLogFormat,
			Timestamp: true,
		})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./clofast.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadConfig reads the config file named by --config, or the first one found
// on the search path, with CLOFAST_ environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global zerolog logger. --verbose forces debug.
func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stderr
	if cfg.Format != "json" {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("clofast version %s", version)
}
