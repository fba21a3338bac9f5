package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export tracked durations to a JSON or CSV file",
	Long:  `Export tracked durations. The format is chosen by extension: .csv for CSV, anything else for JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: withProcessAPI(func(cmd *cobra.Command, api processAPI, args []string) error {
		procs, err := api.Processes(cmd.Context())
		if err != nil {
			return err
		}
		records := make([]storage.Record, 0, len(procs))
		for _, p := range procs {
			records = append(records, storage.NewRecord(p.Identity, time.Duration(p.AccumulatedMS)*time.Millisecond, p.DisplayName, p.IsMedia))
		}
		if err := storage.ExportFile(args[0], records); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("Exported %d processes to %s\n", len(records), args[0])
		return nil
	}),
}

var importMerge bool

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import tracked durations from a JSON or CSV file",
	Long: `Import tracked durations, replacing the current ones or, with --merge, adding
to them. The daemon must be stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: importRecords,
}

func init() {
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "Add imported durations to the current ones")
	rootCmd.AddCommand(exportCmd, importCmd)
}

func importRecords(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	records, err := storage.ImportFile(args[0])
	if err != nil {
		return err
	}

	client, err := daemonClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if client != nil {
		return fmt.Errorf("the daemon is running; stop it before importing")
	}

	api, err := openOffline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer api.Close()

	var n int
	if importMerge {
		n = api.engine.Merge(records)
	} else {
		n = api.engine.Load(records)
	}
	if err := api.save(cmd.Context(), nil); err != nil {
		return err
	}

	mode := "Replaced with"
	if importMerge {
		mode = "Merged"
	}
	color.New(color.FgGreen).Printf("%s %d processes from %s\n", mode, n, args[0])
	return nil
}
