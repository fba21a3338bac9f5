package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tokikanri/tokikanri/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tracking daemon in the background",
	Args:  cobra.NoArgs,
	RunE:  startDaemon,
}

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tracking daemon",
	Args:  cobra.NoArgs,
	RunE:  stopDaemon,
}

func init() {
	startCmd.Flags().IntVarP(&runPort, "port", "p", 0, "Web API port (overrides config)")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "How long to wait for the daemon to save and exit")
	rootCmd.AddCommand(startCmd, stopCmd)
}

func startDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dm := daemon.New(cfg.Daemon.PIDFile, cliLogger(cfg))
	running, pid, err := dm.IsRunning()
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon is already running (PID: %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	childArgs := []string{"run", "--background"}
	if configPath != "" {
		childArgs = append(childArgs, "--config", configPath)
	}
	if runPort > 0 {
		childArgs = append(childArgs, "--port", fmt.Sprint(runPort))
	}

	child := exec.Command(exe, childArgs...)
	child.SysProcAttr = detachedProcAttr()
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	_ = child.Process.Release()

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("Daemon started successfully (PID: %d)\n", child.Process.Pid)
	if cfg.Web.Enabled {
		port := cfg.Web.Port
		if runPort > 0 {
			port = runPort
		}
		fmt.Printf("Web API available at: http://%s:%d\n", cfg.Web.Host, port)
	}
	fmt.Printf("Logs: %s\n", cfg.Daemon.LogFile)
	return nil
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dm := daemon.New(cfg.Daemon.PIDFile, cliLogger(cfg))
	running, pid, err := dm.IsRunning()
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	fmt.Printf("Stopping daemon (PID: %d)...\n", pid)
	if err := dm.Stop(stopTimeout); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	color.New(color.FgGreen, color.Bold).Println("Daemon stopped successfully")
	return nil
}
