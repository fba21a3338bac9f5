package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/oracle"
	"github.com/tokikanri/tokikanri/pkg/detector"
	"github.com/tokikanri/tokikanri/pkg/window"
)

var (
	watchInterval time.Duration
	watchDuration time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the foreground identity, idle time and playback state as they change",
	Long: `Diagnostic loop: every interval, print what the tracker would see. Switch
between applications to check detection.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 2*time.Second, "Sampling interval")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	det, err := detector.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	defer det.Close()

	querier := detector.NewPlaybackQuerier()
	defer querier.Close()
	playback := oracle.New(querier, oracle.SettingsFromConfig(cfg.Oracle), nil, nil, logger)

	resolver := window.NewResolver(det, cfg.Tracker.QueryTimeout, logger)
	idle := window.NewIdleDetector(det, cfg.Tracker.QueryTimeout, logger)
	media := map[window.Identity]bool{}
	for _, id := range cfg.MediaIdentities() {
		media[id] = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if watchDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}

	fmt.Printf("Display Server: %s\n", det.GetDisplayServer())
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	dim := color.New(color.Faint)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for count := 1; ; count++ {
		info, fgErr := resolver.Window(ctx)
		isIdle, idleFor, idleOK := idle.Probe(ctx, cfg.Tracker.IdleThreshold)

		fmt.Printf("[%d] ", count)
		switch {
		case fgErr != nil:
			yellow.Printf("foreground error: %v", fgErr)
		case info == nil:
			dim.Print("no foreground window")
		default:
			fmt.Printf("%-20s | %-40s", info.Identity(), truncate(info.WindowTitle, 40))
		}

		if idleOK {
			fmt.Printf(" | idle %s", idleFor.Truncate(time.Second))
			if isIdle {
				yellow.Print(" (idle)")
			}
		} else {
			dim.Print(" | idle unknown")
		}

		if id := info.Identity(); media[id] {
			st := playback.Query(ctx, id)
			cyan.Printf(" | %s", st.State)
		}
		fmt.Println()

		select {
		case <-ctx.Done():
			fmt.Println("\nDone")
			return nil
		case <-ticker.C:
		}
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
