package config

import "errors"

var _ Defaults = (*CoreConfig)(nil)
var _ Validator = (*CoreConfig)(nil)

type CoreConfig struct {
	Domain string         `mapstructure:"domain"`
	Port   uint           `mapstructure:"port"`
	Log    LogConfig      `mapstructure:"log"`
	DB     DatabaseConfig `mapstructure:"db"`
	Upload UploadConfig   `mapstructure:"upload"`
	HTTP   HTTPConfig     `mapstructure:"http"`
}

func (c CoreConfig) Validate() error {
	if c.Domain == "" {
		return errors.New("core.domain is required")
	}
	if c.Port == 0 {
		return errors.New("core.port is required")
	}

	return nil
}

func (c CoreConfig) Defaults() map[string]any {
	return map[string]any{
		"domain": "localhost",
		"port":   8080,
	}
}
