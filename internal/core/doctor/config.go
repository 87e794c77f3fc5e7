package doctor

import (
	"context"
	"fmt"
	"regexp"

	"github.com/colonyops/waggle/internal/core/config"
)

// tokenShapeRe matches the "<bot id>:<secret>" form BotFather hands out.
// A token failing this is almost always a copy-paste accident.
var tokenShapeRe = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]{30,}$`)

// ConfigCheck validates the loaded configuration and the shape of the
// Telegram credentials. loadErr carries a parse failure from startup: the
// CLI falls back to defaults so doctor can still run, and the broken file
// is reported here.
type ConfigCheck struct {
	cfg        *config.Config
	configPath string
	loadErr    error
}

// NewConfigCheck creates a new configuration check.
func NewConfigCheck(cfg *config.Config, configPath string, loadErr error) *ConfigCheck {
	return &ConfigCheck{cfg: cfg, configPath: configPath, loadErr: loadErr}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

func (c *ConfigCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if c.loadErr != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "config",
			Status: StatusFail,
			Detail: c.loadErr.Error(),
		})
	} else if err := c.cfg.ValidateDeep(c.configPath); err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "config",
			Status: StatusFail,
			Detail: err.Error(),
		})
	} else {
		detail := "defaults"
		if c.configPath != "" {
			detail = c.configPath
		}
		result.Items = append(result.Items, CheckItem{
			Label:  "config",
			Status: StatusPass,
			Detail: detail,
		})
	}

	switch {
	case c.cfg.Telegram.Token == "":
		result.Items = append(result.Items, CheckItem{
			Label:  "telegram token",
			Status: StatusFail,
			Detail: "empty; set WAGGLE_TELEGRAM_TOKEN or telegram.token",
		})
	case !tokenShapeRe.MatchString(c.cfg.Telegram.Token):
		result.Items = append(result.Items, CheckItem{
			Label:  "telegram token",
			Status: StatusWarn,
			Detail: "does not look like a BotFather token",
		})
	default:
		result.Items = append(result.Items, CheckItem{
			Label:  "telegram token",
			Status: StatusPass,
			Detail: "shape ok",
		})
	}

	users := len(c.cfg.Telegram.AllowedUsers)
	userItem := CheckItem{
		Label:  "allowed users",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d configured", users),
	}
	if users == 0 {
		userItem.Status = StatusFail
		userItem.Detail = "nobody is allowed to talk to the bot"
	}
	result.Items = append(result.Items, userItem)

	if c.cfg.Telegram.GroupID == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "group",
			Status: StatusWarn,
			Detail: "group_id unset; new windows will not get topics automatically",
		})
	} else {
		result.Items = append(result.Items, CheckItem{
			Label:  "group",
			Status: StatusPass,
			Detail: fmt.Sprintf("%d", c.cfg.Telegram.GroupID),
		})
	}

	return result
}
