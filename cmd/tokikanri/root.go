package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/logging"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"

	configPath string
)

const appName = "tokikanri"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "tokikanri - foreground process focus time tracker",
	Long: `tokikanri measures how long each process is the active foreground window.
Time stops accruing while the user is idle and, for media players, while
nothing is playing.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default "+config.DefaultPath()+")")
	rootCmd.SetVersionTemplate(fmt.Sprintf("%s version {{.Version}}\n  commit: %s\n  built:  %s\n", appName, commit, date))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// cliLogger is used by short-lived commands; it only reports warnings and up
// unless the config asks for debug.
func cliLogger(cfg *config.Config) zerolog.Logger {
	lc := cfg.Logging
	lc.Format = "text"
	if lc.Level != "debug" {
		lc.Level = "warn"
	}
	return logging.Setup(lc)
}
