package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// NotificationPreferences controls new-mail notifications.
type NotificationPreferences struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// MaxPerPoll caps how many notifications one poll cycle may emit per account.
	MaxPerPoll int `mapstructure:"max_per_poll" json:"max_per_poll"`
}

// Preferences are the user-editable settings kept in a JSON file.
type Preferences struct {
	PollIntervalSeconds int                     `mapstructure:"poll_interval_seconds" json:"poll_interval_seconds"`
	ThreadsPerPage      int                     `mapstructure:"threads_per_page" json:"threads_per_page"`
	Notifications       NotificationPreferences `mapstructure:"notifications" json:"notifications"`
}

// DefaultPreferences returns the settings used when no file exists.
func DefaultPreferences() *Preferences {
	return &Preferences{
		PollIntervalSeconds: 60,
		ThreadsPerPage:      100,
		Notifications: NotificationPreferences{
			Enabled:    true,
			MaxPerPoll: 3,
		},
	}
}

// PollInterval returns the poll interval as a duration.
func (p *Preferences) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

func newPreferencesViper(path string) *viper.Viper {
	defaults := DefaultPreferences()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("poll_interval_seconds", defaults.PollIntervalSeconds)
	v.SetDefault("threads_per_page", defaults.ThreadsPerPage)
	v.SetDefault("notifications.enabled", defaults.Notifications.Enabled)
	v.SetDefault("notifications.max_per_poll", defaults.Notifications.MaxPerPoll)
	return v
}

// LoadPreferences reads preferences from path. A missing file yields defaults.
func LoadPreferences(path string) (*Preferences, error) {
	v := newPreferencesViper(path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return DefaultPreferences(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultPreferences(), nil
		}
		return nil, fmt.Errorf("failed to read preferences %s: %w", path, err)
	}

	prefs := DefaultPreferences()
	if err := v.Unmarshal(prefs); err != nil {
		return nil, fmt.Errorf("failed to parse preferences %s: %w", path, err)
	}

	if err := prefs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preferences %s: %w", path, err)
	}
	return prefs, nil
}

// SavePreferences writes prefs to path, creating the directory if needed.
func SavePreferences(path string, prefs *Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create preferences directory: %w", err)
		}
	}

	v := newPreferencesViper(path)
	v.Set("poll_interval_seconds", prefs.PollIntervalSeconds)
	v.Set("threads_per_page", prefs.ThreadsPerPage)
	v.Set("notifications.enabled", prefs.Notifications.Enabled)
	v.Set("notifications.max_per_poll", prefs.Notifications.MaxPerPoll)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write preferences %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the poller and API cannot work with.
func (p *Preferences) Validate() error {
	if p.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds must be at least 1")
	}
	if p.ThreadsPerPage < 1 {
		return fmt.Errorf("threads_per_page must be at least 1")
	}
	if p.Notifications.MaxPerPoll < 0 {
		return fmt.Errorf("notifications.max_per_poll must not be negative")
	}
	return nil
}
