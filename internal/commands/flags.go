package commands

import (
	"os"
	"path/filepath"

	"github.com/colonyops/waggle/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	Token      string

	// Config is loaded in the Before hook and available to all commands.
	// When loading fails it holds defaults and ConfigErr carries the error:
	// hook and doctor keep working on a broken install, everything else
	// goes through RequireConfig.
	Config    *config.Config
	ConfigErr error
}

// RequireConfig returns the loaded config, or the deferred load error for
// commands that cannot run without a valid one.
func (f *Flags) RequireConfig() (*config.Config, error) {
	if f.ConfigErr != nil {
		return nil, f.ConfigErr
	}
	return f.Config, nil
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "waggle", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "waggle")
}
