package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Manage the media identities gated on playback",
	Long: `Manage the media identities. A running daemon picks up changes through its
config file watcher.`,
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List media identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		state := color.New(color.FgYellow).Sprint("off")
		if cfg.Media.Enabled {
			state = color.New(color.FgGreen).Sprint("on")
		}
		fmt.Printf("Media gating: %s (require playback: %v)\n", state, cfg.Media.RequirePlayback)
		for _, id := range cfg.MediaIdentities() {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

var mediaAddCmd = &cobra.Command{
	Use:   "add IDENTITY...",
	Short: "Add media identities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editMedia(args, true)
	},
}

var mediaRemoveCmd = &cobra.Command{
	Use:     "remove IDENTITY...",
	Aliases: []string{"rm"},
	Short:   "Remove media identities",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editMedia(args, false)
	},
}

func init() {
	mediaCmd.AddCommand(mediaListCmd, mediaAddCmd, mediaRemoveCmd)
	rootCmd.AddCommand(mediaCmd)
}

func editMedia(names []string, add bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	changed := false
	for _, name := range names {
		var ok bool
		if add {
			ok, err = cfg.AddMediaIdentity(name)
		} else {
			ok, err = cfg.RemoveMediaIdentity(name)
		}
		if err != nil {
			return fmt.Errorf("%q: %w", name, err)
		}
		if !ok {
			fmt.Printf("%s: unchanged\n", name)
		}
		changed = changed || ok
	}

	if !changed {
		return nil
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("Saved %s\n", cfg.Path())
	return nil
}
