package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tokikanri/tokikanri/pkg/window"
)

// ErrEmptyIdentity is returned when a media identity normalizes to nothing
var ErrEmptyIdentity = errors.New("empty process identity")

// DefaultMediaIdentities are the players treated as media out of the box
var DefaultMediaIdentities = []string{
	"vlc", "mpv", "mpc-hc", "mpc-hc64", "mpc-be", "mpc-be64",
	"potplayermini64", "potplayermini", "musicbee", "spotify",
}

// Config holds all application configuration
type Config struct {
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Media    MediaConfig    `mapstructure:"media"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Report   ReportConfig   `mapstructure:"report"`
	Web      WebConfig      `mapstructure:"web"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   NotifyConfig   `mapstructure:"notify"`

	// path the config was loaded from, empty for defaults
	path string
}

// TrackerConfig holds tracking behavior configuration
type TrackerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`     // How often to sample foreground and idle
	MinPollInterval time.Duration `mapstructure:"min_poll_interval"` // Minimum allowed poll interval
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"` // Maximum allowed poll interval
	IdleThreshold   time.Duration `mapstructure:"idle_threshold"`    // Time without input before the user is idle
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`     // Bound on a single idle or foreground query
	SaveInterval    time.Duration `mapstructure:"save_interval"`     // Periodic snapshot save
	AutoTrack       bool          `mapstructure:"auto_track"`        // Track every focused process, not just added ones
	MaxProcesses    int           `mapstructure:"max_processes"`     // Cap on auto-tracked processes, 0 is unlimited
}

// MediaConfig holds playback gating configuration
type MediaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Identities      []string `mapstructure:"identities"`
	RequirePlayback bool     `mapstructure:"require_playback"`
	IdleGate        bool     `mapstructure:"idle_gate"` // Media identities are also suspended when idle
}

// OracleConfig holds playback oracle pool configuration
type OracleConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	Staleness        time.Duration `mapstructure:"staleness"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
}

// StorageConfig selects the snapshot backend
type StorageConfig struct {
	Backend string      `mapstructure:"backend"` // json, sqlite or redis
	Path    string      `mapstructure:"path"`    // JSON file, empty means ~/.config/tokikanri/tracked.json
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis backend connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // Path to SQLite database file
}

// HistoryConfig controls the flush history kept for reports
type HistoryConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string `mapstructure:"pid_file"` // Path to PID file for daemon management
	LogFile string `mapstructure:"log_file"`
}

// ReportConfig holds report generation configuration
type ReportConfig struct {
	TimeZone string `mapstructure:"time_zone"`
}

// WebConfig holds web server configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"` // Host to bind web server to
	Port    int    `mapstructure:"port"` // Port for web server
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// NotifyConfig controls health notifications
type NotifyConfig struct {
	Desktop bool `mapstructure:"desktop"`
}

// Dir returns the per-user config directory
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tokikanri")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tokikanri")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns a Config with sensible default values
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults alone always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from path (the default location when empty) and
// TOKIKANRI_* environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TOKIKANRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Media.Identities = normalizeAll(cfg.Media.Identities)
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("tracker.poll_interval", time.Second)
	v.SetDefault("tracker.min_poll_interval", 250*time.Millisecond)
	v.SetDefault("tracker.max_poll_interval", time.Minute)
	v.SetDefault("tracker.idle_threshold", 60*time.Second)
	v.SetDefault("tracker.query_timeout", 500*time.Millisecond)
	v.SetDefault("tracker.save_interval", 60*time.Second)
	v.SetDefault("tracker.auto_track", true)
	v.SetDefault("tracker.max_processes", 0)

	v.SetDefault("media.enabled", false)
	v.SetDefault("media.identities", DefaultMediaIdentities)
	v.SetDefault("media.require_playback", false)
	v.SetDefault("media.idle_gate", true)

	v.SetDefault("oracle.workers", 2)
	v.SetDefault("oracle.queue_size", 8)
	v.SetDefault("oracle.query_timeout", 2*time.Second)
	v.SetDefault("oracle.staleness", 5*time.Second)
	v.SetDefault("oracle.failure_threshold", 5)
	v.SetDefault("oracle.drain_timeout", 3*time.Second)

	v.SetDefault("storage.backend", "json")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", "tokikanri:processes")

	v.SetDefault("database.path", "") // Empty means ~/.config/tokikanri/tokikanri.db

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention_days", 90)

	v.SetDefault("daemon.pid_file", filepath.Join(os.TempDir(), fmt.Sprintf("tokikanri-%d.pid", os.Getuid())))
	v.SetDefault("daemon.log_file", filepath.Join(os.TempDir(), fmt.Sprintf("tokikanri-%d.log", os.Getuid())))

	v.SetDefault("report.time_zone", "Local")

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.host", "localhost")
	v.SetDefault("web.port", 10000+os.Getuid()%50000) // Per-user default port

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("notify.desktop", true)
}

// Path returns the file this config was loaded from
func (c *Config) Path() string {
	if c.path == "" {
		return DefaultPath()
	}
	return c.path
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Tracker.PollInterval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be less than minimum (%v)",
			c.Tracker.PollInterval, c.Tracker.MinPollInterval)
	}

	if c.Tracker.PollInterval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval (%v) cannot be greater than maximum (%v)",
			c.Tracker.PollInterval, c.Tracker.MaxPollInterval)
	}

	if c.Tracker.IdleThreshold < 0 {
		return fmt.Errorf("idle threshold cannot be negative")
	}

	if c.Tracker.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	if c.Tracker.SaveInterval <= 0 {
		return fmt.Errorf("save interval must be positive")
	}

	if c.Tracker.MaxProcesses < 0 {
		return fmt.Errorf("max processes cannot be negative")
	}

	for _, name := range c.Media.Identities {
		if window.Normalize(name).IsZero() {
			return fmt.Errorf("media identity %q: %w", name, ErrEmptyIdentity)
		}
	}

	if c.Oracle.Workers < 1 {
		return fmt.Errorf("oracle workers must be at least 1, got %d", c.Oracle.Workers)
	}

	if c.Oracle.QueueSize < 1 {
		return fmt.Errorf("oracle queue size must be at least 1, got %d", c.Oracle.QueueSize)
	}

	if c.Oracle.QueryTimeout <= 0 {
		return fmt.Errorf("oracle query timeout must be positive")
	}

	if c.Oracle.Staleness < c.Tracker.PollInterval {
		return fmt.Errorf("oracle staleness (%v) cannot be less than poll interval (%v)",
			c.Oracle.Staleness, c.Tracker.PollInterval)
	}

	if c.Oracle.FailureThreshold < 1 {
		return fmt.Errorf("oracle failure threshold must be at least 1")
	}

	switch c.Storage.Backend {
	case "json", "sqlite":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want json, sqlite or redis)", c.Storage.Backend)
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention cannot be negative")
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be between 1 and 65535, got %d", c.Web.Port)
	}

	if c.Web.Host == "" {
		return fmt.Errorf("web host cannot be empty")
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q (want json or text)", c.Logging.Format)
	}

	return nil
}

func normalizeAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		id := window.Normalize(name).String()
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// MediaIdentities returns the normalized media identity set
func (c *Config) MediaIdentities() []window.Identity {
	ids := make([]window.Identity, 0, len(c.Media.Identities))
	for _, name := range normalizeAll(c.Media.Identities) {
		ids = append(ids, window.Identity(name))
	}
	return ids
}

// AddMediaIdentity normalizes name and adds it to the media set. It reports
// whether the set changed.
func (c *Config) AddMediaIdentity(name string) (bool, error) {
	id := window.Normalize(name)
	if id.IsZero() {
		return false, ErrEmptyIdentity
	}
	current := normalizeAll(c.Media.Identities)
	if slices.Contains(current, id.String()) {
		return false, nil
	}
	c.Media.Identities = append(current, id.String())
	return true, nil
}

// RemoveMediaIdentity removes name from the media set. It reports whether
// the set changed.
func (c *Config) RemoveMediaIdentity(name string) (bool, error) {
	id := window.Normalize(name)
	if id.IsZero() {
		return false, ErrEmptyIdentity
	}
	current := normalizeAll(c.Media.Identities)
	i := slices.Index(current, id.String())
	if i < 0 {
		return false, nil
	}
	c.Media.Identities = slices.Delete(current, i, i+1)
	return true, nil
}

// SetPollInterval sets the poll interval with validation
func (c *Config) SetPollInterval(interval time.Duration) error {
	if interval < c.Tracker.MinPollInterval {
		return fmt.Errorf("poll interval cannot be less than %v", c.Tracker.MinPollInterval)
	}
	if interval > c.Tracker.MaxPollInterval {
		return fmt.Errorf("poll interval cannot be greater than %v", c.Tracker.MaxPollInterval)
	}
	c.Tracker.PollInterval = interval
	return nil
}

// SetIdleThreshold sets the idle threshold with validation
func (c *Config) SetIdleThreshold(threshold time.Duration) error {
	if threshold < 0 {
		return fmt.Errorf("idle threshold cannot be negative")
	}
	c.Tracker.IdleThreshold = threshold
	return nil
}

// SetWebPort sets the web server port with validation
func (c *Config) SetWebPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	c.Web.Port = port
	return nil
}

// StoragePath returns the JSON snapshot path
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(Dir(), "tracked.json")
}

// DatabasePath returns the SQLite database path
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(Dir(), "tokikanri.db")
}

// Location returns the report time zone, falling back to local time
func (c *Config) Location() *time.Location {
	if c.Report.TimeZone == "" || c.Report.TimeZone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Report.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration (%s):
  Tracker:
    Poll Interval: %v
    Min Interval: %v
    Max Interval: %v
    Idle Threshold: %v
    Query Timeout: %v
    Save Interval: %v
    Auto Track: %v
    Max Processes: %d
  Media:
    Enabled: %v
    Require Playback: %v
    Idle Gate: %v
    Identities: %s
  Oracle:
    Workers: %d
    Queue Size: %d
    Query Timeout: %v
    Staleness: %v
    Failure Threshold: %d
  Storage:
    Backend: %s
    Path: %s
  Database:
    Path: %s
  History:
    Enabled: %v
    Retention Days: %d
  Daemon:
    PID File: %s
    Log File: %s
  Report:
    Time Zone: %s
  Web:
    Enabled: %v
    Host: %s
    Port: %d
  Logging:
    Level: %s
    Format: %s`,
		c.Path(),
		c.Tracker.PollInterval,
		c.Tracker.MinPollInterval,
		c.Tracker.MaxPollInterval,
		c.Tracker.IdleThreshold,
		c.Tracker.QueryTimeout,
		c.Tracker.SaveInterval,
		c.Tracker.AutoTrack,
		c.Tracker.MaxProcesses,
		c.Media.Enabled,
		c.Media.RequirePlayback,
		c.Media.IdleGate,
		strings.Join(c.Media.Identities, ", "),
		c.Oracle.Workers,
		c.Oracle.QueueSize,
		c.Oracle.QueryTimeout,
		c.Oracle.Staleness,
		c.Oracle.FailureThreshold,
		c.Storage.Backend,
		c.StoragePath(),
		c.DatabasePath(),
		c.History.Enabled,
		c.History.RetentionDays,
		c.Daemon.PIDFile,
		c.Daemon.LogFile,
		c.Report.TimeZone,
		c.Web.Enabled,
		c.Web.Host,
		c.Web.Port,
		c.Logging.Level,
		c.Logging.Format,
	)
}
