package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
)

var _ Defaults = (*UploadConfig)(nil)
var _ Validator = (*UploadConfig)(nil)

type UploadConfig struct {
	// Directory holds one blob file per upload id.
	Directory string `mapstructure:"directory"`

	// MaxSize is a human-readable byte size ("5GB"). Zero or empty disables
	// the limit.
	MaxSize string `mapstructure:"max_size"`

	// Retention is how long an uncommitted upload survives before the
	// cleanup sweep removes it.
	Retention time.Duration `mapstructure:"retention"`

	// SweepInterval is the period between cleanup runs, SweepDelay the
	// wait before the first run after startup.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepDelay    time.Duration `mapstructure:"sweep_delay"`
}

func (u UploadConfig) Validate() error {
	if u.MaxSize != "" {
		if _, err := units.RAMInBytes(u.MaxSize); err != nil {
			return fmt.Errorf("core.upload.max_size is invalid: %w", err)
		}
	}
	if u.Retention < 0 {
		return errors.New("core.upload.retention must not be negative")
	}

	return nil
}

func (u UploadConfig) Defaults() map[string]any {
	return map[string]any{
		"directory":      "uploads",
		"max_size":       "5GB",
		"retention":      "24h",
		"sweep_interval": "1h",
		"sweep_delay":    "1m",
	}
}

// MaxSizeBytes returns the parsed max_size, or 0 when unlimited.
func (u UploadConfig) MaxSizeBytes() int64 {
	if u.MaxSize == "" {
		return 0
	}

	size, err := units.RAMInBytes(u.MaxSize)
	if err != nil {
		return 0
	}

	return size
}
