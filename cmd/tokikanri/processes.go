package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/web"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked processes and their accumulated time",
	Args:    cobra.NoArgs,
	RunE: withProcessAPI(func(cmd *cobra.Command, api processAPI, args []string) error {
		procs, err := api.Processes(cmd.Context())
		if err != nil {
			return err
		}
		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(procs)
		}
		printProcesses(procs)
		return nil
	}),
}

var addCmd = &cobra.Command{
	Use:   "add IDENTITY [DISPLAY NAME]",
	Short: "Start tracking a process",
	Example: `  tokikanri add vlc.exe
  tokikanri add code "VS Code"`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withProcessAPI(func(cmd *cobra.Command, api processAPI, args []string) error {
		displayName := ""
		if len(args) > 1 {
			displayName = args[1]
		}
		id, err := api.Add(cmd.Context(), args[0], displayName)
		if isConflict(err) {
			return fmt.Errorf("%s is already tracked", args[0])
		}
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("Tracking %s\n", id)
		return nil
	}),
}

var renameCmd = &cobra.Command{
	Use:   "rename IDENTITY DISPLAY_NAME",
	Short: "Set the display name of a tracked process",
	Long:  `Set the display name of a tracked process. An empty name clears it.`,
	Args:  cobra.ExactArgs(2),
	RunE: withProcessAPI(func(cmd *cobra.Command, api processAPI, args []string) error {
		if err := api.Rename(cmd.Context(), args[0], args[1]); err != nil {
			return notFound(args[0], err)
		}
		fmt.Printf("Renamed %s\n", args[0])
		return nil
	}),
}

var (
	resetAll  bool
	removeAll bool
)

var resetCmd = &cobra.Command{
	Use:   "reset [IDENTITY]",
	Short: "Zero the accumulated time of a process, or of all with --all",
	Args:  oneOrAll(&resetAll),
	RunE: withProcessAPI(func(cmd *cobra.Command, api processAPI, args []string) error {
		if resetAll {
			if err := api.ResetAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All processes reset")
			return nil
		}
		if err := api.Reset(cmd.Context(), args[0]); err != nil {
			return notFound(args[0], err)
		}
		fmt.Printf("Reset %s\n", args[0])
		return nil
	}),
}

var removeCmd = &cobra.Command{
	Use:     "remove [IDENTITY]",
	Aliases: []string{"rm"},
	Short:   "Stop tracking a process, or all with --all",
	Args:    oneOrAll(&removeAll),
	RunE: withProcessAPI(func(cmd *cobra.Command, api processAPI, args []string) error {
		if removeAll {
			if err := api.RemoveAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All processes removed")
			return nil
		}
		if err := api.Remove(cmd.Context(), args[0]); err != nil {
			return notFound(args[0], err)
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	}),
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Reset every tracked process")
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "Remove every tracked process")
	rootCmd.AddCommand(listCmd, addCmd, renameCmd, resetCmd, removeCmd)
}

func withProcessAPI(fn func(cmd *cobra.Command, api processAPI, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		api, err := openProcessAPI(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer api.Close()
		return fn(cmd, api, args)
	}
}

func oneOrAll(all *bool) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if *all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	}
}

func notFound(identity string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s is not tracked", identity)
	}
	return err
}

func printProcesses(procs []web.ProcessJSON) {
	if len(procs) == 0 {
		fmt.Println("No tracked processes")
		return
	}

	bold := color.New(color.Bold)
	accruing := color.New(color.FgGreen)
	suspended := color.New(color.FgYellow)
	media := color.New(color.FgCyan)

	bold.Printf("%-30s %12s  %s\n", "Process", "Time", "State")
	fmt.Println(strings.Repeat("-", 56))
	for _, p := range procs {
		name := p.Identity
		if p.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", p.DisplayName, p.Identity)
		}
		fmt.Printf("%-30s %12s  ", name, p.Accumulated)
		switch p.State {
		case "accruing":
			accruing.Print(p.State)
		case "suspended":
			suspended.Printf("%s (%s)", p.State, p.Reason)
		}
		if p.IsMedia {
			media.Print(" media")
		}
		fmt.Println()
	}
}
