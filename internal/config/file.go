package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape. Durations are written as strings ("1s")
// so the file stays hand-editable and reads back through viper.
func (c *Config) document() map[string]any {
	return map[string]any{
		"tracker": map[string]any{
			"poll_interval":     c.Tracker.PollInterval.String(),
			"min_poll_interval": c.Tracker.MinPollInterval.String(),
			"max_poll_interval": c.Tracker.MaxPollInterval.String(),
			"idle_threshold":    c.Tracker.IdleThreshold.String(),
			"query_timeout":     c.Tracker.QueryTimeout.String(),
			"save_interval":     c.Tracker.SaveInterval.String(),
			"auto_track":        c.Tracker.AutoTrack,
			"max_processes":     c.Tracker.MaxProcesses,
		},
		"media": map[string]any{
			"enabled":          c.Media.Enabled,
			"identities":       normalizeAll(c.Media.Identities),
			"require_playback": c.Media.RequirePlayback,
			"idle_gate":        c.Media.IdleGate,
		},
		"oracle": map[string]any{
			"workers":           c.Oracle.Workers,
			"queue_size":        c.Oracle.QueueSize,
			"query_timeout":     c.Oracle.QueryTimeout.String(),
			"staleness":         c.Oracle.Staleness.String(),
			"failure_threshold": c.Oracle.FailureThreshold,
			"drain_timeout":     c.Oracle.DrainTimeout.String(),
		},
		"storage": map[string]any{
			"backend": c.Storage.Backend,
			"path":    c.Storage.Path,
			"redis": map[string]any{
				"addr":     c.Storage.Redis.Addr,
				"password": c.Storage.Redis.Password,
				"db":       c.Storage.Redis.DB,
				"key":      c.Storage.Redis.Key,
			},
		},
		"database": map[string]any{"path": c.Database.Path},
		"history": map[string]any{
			"enabled":        c.History.Enabled,
			"retention_days": c.History.RetentionDays,
		},
		"daemon": map[string]any{
			"pid_file": c.Daemon.PIDFile,
			"log_file": c.Daemon.LogFile,
		},
		"report": map[string]any{"time_zone": c.Report.TimeZone},
		"web": map[string]any{
			"enabled": c.Web.Enabled,
			"host":    c.Web.Host,
			"port":    c.Web.Port,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
		"notify": map[string]any{"desktop": c.Notify.Desktop},
	}
}

// Marshal renders the config as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c.document())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Save validates c and writes it to its own path
func (c *Config) Save() error {
	return c.SaveAs(c.Path())
}

// SaveAs validates c and writes it to path atomically
func (c *Config) SaveAs(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid configuration: %w", err)
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

// Import loads the config file at src, validates it and saves it over the
// config at dst.
func Import(src, dst string) (*Config, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", src, err)
	}
	cfg, err := Load(src)
	if err != nil {
		return nil, err
	}
	cfg.path = dst
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
