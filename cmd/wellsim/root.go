package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/notargets/wellsim/config"
	"github.com/notargets/wellsim/logger"
)

var (
	configPath string
	envFile    string
	jsonOutput bool
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "wellsim",
	Short: "Standard well model driver",
	Long: `wellsim assembles and solves the well equations of a case file
against a fixed reservoir state and evaluates economic limits.

Environment Variables:
  WELLSIM_LOG_LEVEL    debug, info, warn, error (default: info)
  WELLSIM_LOG_FORMAT   text, json (default: text)
  WELLSIM_*            well model overrides, see the config package`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger.Init()
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run configuration (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
}

// runLogger loads the configuration and tags the default logger with a run id
func runLogger() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	l := slog.Default().With("run", uuid.New().String())
	return cfg, l, nil
}
