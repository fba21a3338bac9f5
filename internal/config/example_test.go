package config_test

import (
	"fmt"
	"time"

	"github.com/tokikanri/tokikanri/internal/config"
)

// Example of creating a default configuration
func ExampleDefault() {
	cfg := config.Default()
	fmt.Println("Poll Interval:", cfg.Tracker.PollInterval)
	fmt.Println("Idle Threshold:", cfg.Tracker.IdleThreshold)
	fmt.Println("Storage:", cfg.Storage.Backend)
	// Output:
	// Poll Interval: 1s
	// Idle Threshold: 1m0s
	// Storage: json
}

// Example of setting poll interval with validation
func ExampleConfig_SetPollInterval() {
	cfg := config.Default()

	// Valid interval
	if err := cfg.SetPollInterval(2 * time.Second); err != nil {
		fmt.Println("Error:", err)
	} else {
		fmt.Println("Poll interval set to:", cfg.Tracker.PollInterval)
	}

	// Invalid interval (too low)
	if err := cfg.SetPollInterval(100 * time.Millisecond); err != nil {
		fmt.Println("Error:", err)
	}

	// Output:
	// Poll interval set to: 2s
	// Error: poll interval cannot be less than 250ms
}

// Example of validating configuration
func ExampleConfig_Validate() {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid config:", err)
	} else {
		fmt.Println("Configuration is valid")
	}

	cfg.Media.Identities = append(cfg.Media.Identities, " .exe ")
	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid config:", err)
	}

	// Output:
	// Configuration is valid
	// Invalid config: media identity " .exe ": empty process identity
}

// Example of adding a media identity
func ExampleConfig_AddMediaIdentity() {
	cfg := config.Default()
	cfg.Media.Identities = nil

	changed, _ := cfg.AddMediaIdentity("VLC.exe")
	fmt.Println(changed, cfg.Media.Identities)

	changed, _ = cfg.AddMediaIdentity("vlc")
	fmt.Println(changed, cfg.Media.Identities)

	// Output:
	// true [vlc]
	// false [vlc]
}
