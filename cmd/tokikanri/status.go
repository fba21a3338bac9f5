package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/daemon"
	"github.com/tokikanri/tokikanri/internal/web"
	"github.com/tokikanri/tokikanri/pkg/detector"
	"github.com/tokikanri/tokikanri/pkg/utils"
	"github.com/tokikanri/tokikanri/pkg/window"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and the current foreground process",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	running, pid, err := daemon.New(cfg.Daemon.PIDFile, cliLogger(cfg)).IsRunning()
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running {
		fmt.Print("Status: ")
		red.Println("Not running")
		// Still show current window detection even when not running
		showCurrentWindow(cmd.Context(), cfg)
		return nil
	}

	fmt.Print("Status: ")
	green.Printf("Running (PID: %d)\n", pid)

	st, err := web.NewClient(webAddr(cfg)).Status(cmd.Context())
	if err != nil {
		yellow.Printf("Web API unavailable: %v\n", err)
		return nil
	}

	fmt.Printf("Poll Interval: %s\n", st.PollInterval)
	fmt.Printf("Idle Threshold: %s\n", st.IdleThreshold)
	fmt.Printf("Tracked: %d processes\n", st.Tracked)
	if st.MediaEnabled {
		fmt.Printf("Media Gating: on (require playback: %v)\n", st.RequirePlayback)
	}
	if st.Oracle != nil && !st.Oracle.Healthy {
		yellow.Printf("Playback queries failing (%d in a row)\n", st.Oracle.ConsecutiveFailures)
	}

	if st.Active == "" {
		fmt.Println("\nNo active session")
		return nil
	}

	fmt.Printf("\nActive: %s\n", st.Active)
	fmt.Print("  State: ")
	switch st.State {
	case "accruing":
		green.Println(st.State)
	default:
		if st.Reason != "" {
			yellow.Printf("%s (%s)\n", st.State, st.Reason)
		} else {
			yellow.Println(st.State)
		}
	}
	fmt.Printf("  Session: %s\n", utils.FormatClock(time.Duration(st.SessionAccruedMS)*time.Millisecond))
	if st.IsMedia {
		fmt.Printf("  Playback: %s\n", st.Playback)
	}
	return nil
}

func showCurrentWindow(ctx context.Context, cfg *config.Config) {
	logger := cliLogger(cfg)
	det, err := detector.New(logger)
	if err != nil {
		fmt.Printf("\nCould not detect current window: %v\n", err)
		return
	}
	defer det.Close()

	resolver := window.NewResolver(det, cfg.Tracker.QueryTimeout, logger)
	if info, err := resolver.Window(ctx); err == nil && info != nil {
		fmt.Printf("\nCurrent Window:\n")
		fmt.Printf("  Identity: %s\n", info.Identity())
		fmt.Printf("  Title: %s\n", info.WindowTitle)
		fmt.Printf("  Display: %s\n", info.DisplayServer)
	}

	idle := window.NewIdleDetector(det, cfg.Tracker.QueryTimeout, logger)
	if isIdle, idleFor, ok := idle.Probe(ctx, cfg.Tracker.IdleThreshold); ok {
		fmt.Printf("\nSystem State:\n")
		fmt.Printf("  Idle: %v\n", isIdle)
		fmt.Printf("  Idle Time: %s\n", idleFor.Truncate(time.Second))
	}
}
