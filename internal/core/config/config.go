// Package config handles configuration loading and validation for waggle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NotificationMode controls which transcript records are mirrored to a topic.
type NotificationMode string

// Supported notification modes. Cycle order is all → errors_only → muted.
const (
	NotifyAll        NotificationMode = "all"
	NotifyErrorsOnly NotificationMode = "errors_only"
	NotifyMuted      NotificationMode = "muted"
)

// Next returns the mode that follows in the cycle.
func (m NotificationMode) Next() NotificationMode {
	switch m {
	case NotifyAll:
		return NotifyErrorsOnly
	case NotifyErrorsOnly:
		return NotifyMuted
	default:
		return NotifyAll
	}
}

// IsValid reports whether the mode is one of the supported values.
func (m NotificationMode) IsValid() bool {
	switch m {
	case NotifyAll, NotifyErrorsOnly, NotifyMuted:
		return true
	default:
		return false
	}
}

// Config holds the application configuration.
type Config struct {
	Telegram      Telegram      `yaml:"telegram"`
	Tmux          Tmux          `yaml:"tmux"`
	Provider      Provider      `yaml:"provider"`
	Poll          Poll          `yaml:"poll"`
	AutoClose     AutoClose     `yaml:"autoclose"`
	Screenshot    Screenshot    `yaml:"screenshot"`
	Notifications Notifications `yaml:"notifications"`
	DataDir       string        `yaml:"-"` // set by caller, not from config file
}

// Telegram holds the chat-platform connection settings.
type Telegram struct {
	// Token is the bot token. Usually provided via WAGGLE_TELEGRAM_TOKEN.
	Token string `yaml:"token"`
	// AllowedUsers is the whitelist of user ids permitted to talk to the bot.
	AllowedUsers []int64 `yaml:"allowed_users"`
	// GroupID is the supergroup used for auto-created topics. 0 disables
	// auto-topic creation for windows with no existing binding.
	GroupID int64 `yaml:"group_id"`
}

// Tmux holds multiplexer settings.
type Tmux struct {
	// Session is the tmux session owned by this process.
	Session string `yaml:"session"`
	// PlaceholderWindow is a reserved window name excluded from listings.
	// tmux kills a session when its last window closes; the placeholder
	// keeps the session alive with zero agent windows.
	PlaceholderWindow string `yaml:"placeholder_window"`
}

// Provider holds settings for the AI CLI run inside windows.
type Provider struct {
	// Command is the executable launched in new windows.
	Command string `yaml:"command"`
	// ProjectsDir is where the CLI writes per-project transcript directories.
	// Empty means ~/.claude/projects.
	ProjectsDir string `yaml:"projects_dir"`
}

// Poll holds loop cadences.
type Poll struct {
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	StatusInterval   time.Duration `yaml:"status_interval"`
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

// AutoClose holds topic auto-close timeouts in minutes. 0 disables a timer.
type AutoClose struct {
	DoneAfter int `yaml:"done_after"`
	DeadAfter int `yaml:"dead_after"`
}

// Screenshot holds the optional external pane renderer.
type Screenshot struct {
	// Renderer is a command receiving ANSI pane text on stdin and writing a
	// PNG to stdout. Empty falls back to sending the capture as a text file.
	Renderer string `yaml:"renderer"`
}

// Notifications holds defaults for per-window notification filtering.
type Notifications struct {
	DefaultMode NotificationMode `yaml:"default_mode"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tmux: Tmux{
			Session:           "waggle",
			PlaceholderWindow: "_idle",
		},
		Provider: Provider{
			Command: "claude",
		},
		Poll: Poll{
			MonitorInterval:  2 * time.Second,
			StatusInterval:   1 * time.Second,
			LivenessInterval: 60 * time.Second,
		},
		AutoClose: AutoClose{
			DoneAfter: 0,
			DeadAfter: 5,
		},
		Notifications: Notifications{
			DefaultMode: NotifyAll,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
// The token argument overrides the file value when non-empty (flag/env wins).
func Load(configPath, dataDir, token string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	if token != "" {
		cfg.Telegram.Token = token
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Tmux.Session == "" {
		c.Tmux.Session = defaults.Tmux.Session
	}
	if c.Tmux.PlaceholderWindow == "" {
		c.Tmux.PlaceholderWindow = defaults.Tmux.PlaceholderWindow
	}
	if c.Provider.Command == "" {
		c.Provider.Command = defaults.Provider.Command
	}
	if c.Provider.ProjectsDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Provider.ProjectsDir = filepath.Join(home, ".claude", "projects")
		}
	}
	if c.Poll.MonitorInterval == 0 {
		c.Poll.MonitorInterval = defaults.Poll.MonitorInterval
	}
	if c.Poll.StatusInterval == 0 {
		c.Poll.StatusInterval = defaults.Poll.StatusInterval
	}
	if c.Poll.LivenessInterval == 0 {
		c.Poll.LivenessInterval = defaults.Poll.LivenessInterval
	}
	if c.Notifications.DefaultMode == "" {
		c.Notifications.DefaultMode = defaults.Notifications.DefaultMode
	}
}

// StateFile returns the path to the persisted store state.
func (c *Config) StateFile() string {
	return filepath.Join(c.DataDir, "state.json")
}

// MonitorFile returns the path to the monitor's tracked-session state.
func (c *Config) MonitorFile() string {
	return filepath.Join(c.DataDir, "monitor.json")
}

// SessionMapFile returns the path to the hook-written session map.
func (c *Config) SessionMapFile() string {
	return filepath.Join(c.DataDir, "session_map.json")
}

// LogFile returns the default log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "waggle.log")
}

// AllowsUser reports whether a user id is in the allowed list.
func (c *Config) AllowsUser(id int64) bool {
	for _, u := range c.Telegram.AllowedUsers {
		if u == id {
			return true
		}
	}
	return false
}

// PrimaryUser returns the first allowed user id, used as the fallback owner
// for auto-created topics.
func (c *Config) PrimaryUser() int64 {
	if len(c.Telegram.AllowedUsers) == 0 {
		return 0
	}
	return c.Telegram.AllowedUsers[0]
}
