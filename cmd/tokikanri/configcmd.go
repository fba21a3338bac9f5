package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, export or import the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Println(cfg.String())
		return nil
	},
}

var configExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Write the effective configuration as YAML to FILE or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := cfg.SaveAs(args[0]); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("Configuration exported to %s\n", args[0])
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Validate a YAML configuration and install it as the active config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dst := configPath
		if dst == "" {
			dst = config.DefaultPath()
		}
		cfg, err := config.Import(args[0], dst)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("Configuration imported to %s\n", cfg.Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configExportCmd, configImportCmd)
	rootCmd.AddCommand(configCmd)
}
