package config

import (
	"fmt"
	"os"

	"github.com/hay-kot/criterio"
)

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("telegram.token", c.Telegram.Token, required),
		criterio.Run("tmux.session", c.Tmux.Session, required),
		criterio.Run("provider.command", c.Provider.Command, required),
		criterio.Run("data_dir", c.DataDir, required),
		c.validateUsers(),
		c.validateIntervals(),
		c.validateModes(),
	)
}

// ValidateDeep adds I/O checks on top of Validate: config file accessibility
// and data directory writability. Used by the doctor command.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func required(s string) error {
	if s == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func (c *Config) validateUsers() error {
	var errs criterio.FieldErrorsBuilder

	if len(c.Telegram.AllowedUsers) == 0 {
		errs = errs.Append("telegram.allowed_users", fmt.Errorf("at least one user id is required"))
	}
	for i, id := range c.Telegram.AllowedUsers {
		if id <= 0 {
			errs = errs.Append(fmt.Sprintf("telegram.allowed_users[%d]", i), fmt.Errorf("must be a positive user id"))
		}
	}

	return errs.ToError()
}

func (c *Config) validateIntervals() error {
	var errs criterio.FieldErrorsBuilder

	if c.Poll.MonitorInterval <= 0 {
		errs = errs.Append("poll.monitor_interval", fmt.Errorf("must be positive"))
	}
	if c.Poll.StatusInterval <= 0 {
		errs = errs.Append("poll.status_interval", fmt.Errorf("must be positive"))
	}
	if c.Poll.LivenessInterval <= 0 {
		errs = errs.Append("poll.liveness_interval", fmt.Errorf("must be positive"))
	}
	if c.AutoClose.DoneAfter < 0 {
		errs = errs.Append("autoclose.done_after", fmt.Errorf("cannot be negative"))
	}
	if c.AutoClose.DeadAfter < 0 {
		errs = errs.Append("autoclose.dead_after", fmt.Errorf("cannot be negative"))
	}

	return errs.ToError()
}

func (c *Config) validateModes() error {
	if !c.Notifications.DefaultMode.IsValid() {
		return criterio.NewFieldErrors("notifications.default_mode",
			fmt.Errorf("must be one of: all, errors_only, muted"))
	}
	return nil
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}
