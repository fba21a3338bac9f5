package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/database"
	"github.com/tokikanri/tokikanri/internal/reporter"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:       "report [day|yesterday|week|month]",
	Short:     "Generate a time report from the flush history",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"day", "today", "yesterday", "week", "month"},
	Example: `  tokikanri report
  tokikanri report week --json`,
	RunE: generateReport,
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the flush history and error log",
	Long: `Delete the flush history and error log used by reports. Tracked totals are
kept; use "reset --all" to zero those.`,
	Args: cobra.NoArgs,
	RunE: clearHistory,
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Output as JSON")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(reportCmd, clearCmd)
}

func generateReport(cmd *cobra.Command, args []string) error {
	periodType := "day"
	if len(args) > 0 {
		periodType = args[0]
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled (history.enabled: false), there is nothing to report")
	}

	db, err := database.Connect(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		return err
	}

	rep := reporter.New(cfg, database.NewRepository(db)).WithDisplayNames(displayNames(cmd, cfg))

	report, err := rep.GenerateReport(cmd.Context(), periodType)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if reportJSON {
		jsonStr, err := rep.FormatReportJSON(report)
		if err != nil {
			return err
		}
		fmt.Println(jsonStr)
		return nil
	}

	fmt.Println(rep.FormatReportText(report))
	return nil
}

func clearHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !clearYes {
		fmt.Print("This will delete all report history. Are you sure? (yes/no): ")
		response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" && response != "y" {
			fmt.Println("Operation cancelled")
			return nil
		}
	}

	db, err := database.Connect(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		return err
	}

	if err := database.NewRepository(db).Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	color.New(color.FgGreen).Println("History cleared successfully")
	return nil
}

// displayNames returns a lookup of the current display names of tracked
// processes. Failures just leave names empty.
func displayNames(cmd *cobra.Command, cfg *config.Config) func(string) string {
	names := map[string]string{}
	if api, err := openProcessAPI(cmd.Context(), cfg); err == nil {
		defer api.Close()
		if procs, err := api.Processes(cmd.Context()); err == nil {
			for _, p := range procs {
				names[p.Identity] = p.DisplayName
			}
		}
	}
	return func(id string) string { return names[id] }
}
