package config

type HTTPConfig struct {
	// APIKey guards the administrative API when non-empty. The health
	// endpoint is always reachable.
	APIKey string `mapstructure:"api_key"`

	CORSOrigins []string `mapstructure:"cors_origins"`
}
