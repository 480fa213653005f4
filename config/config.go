package config

import (
	"errors"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	configFilePaths = []string{
		"/etc/unify/uploads/config.yaml",
		"/etc/unify/uploads/config.yml",
		"$HOME/.unify/uploads/config.yaml",
		"$HOME/.unify/uploads/config.yml",
		"./uploads.yaml",
		"./uploads.yml",
	}

	errConfigFileNotFound = errors.New("config file not found")
)

// Defaults is implemented by config sections that carry default values.
type Defaults interface {
	Defaults() map[string]any
}

// Validator is implemented by config sections that require validation.
type Validator interface {
	Validate() error
}

type Config struct {
	Core CoreConfig `mapstructure:"core"`
}

type Manager struct {
	config *koanf.Koanf
	root   *Config
}

func NewManager() (*Manager, error) {
	k, err := loadConfigFile()
	if err != nil && !errors.Is(err, errConfigFileNotFound) {
		return nil, err
	}

	m := &Manager{config: k, root: &Config{}}

	if err := m.init(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) Config() *Config {
	return m.root
}

func (m *Manager) init() error {
	for prefix, section := range m.sections() {
		if err := m.applyDefaults(prefix, section); err != nil {
			return err
		}
	}

	// Environment variables override file values: UNIFY_UPLOADS_CORE__PORT etc.
	err := m.config.Load(env.Provider("UNIFY_UPLOADS_", "__", envTransform), nil)
	if err != nil {
		return err
	}

	err = m.config.UnmarshalWithConf("", m.root, koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           m.root,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return err
	}

	for _, section := range m.sections() {
		if v, ok := section.(Validator); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
	}

	return nil
}

// sections enumerates the config tree so defaults can be registered per
// prefix before unmarshalling and each section validated after.
func (m *Manager) sections() map[string]any {
	return map[string]any{
		"core":        m.root.Core,
		"core.log":    m.root.Core.Log,
		"core.db":     m.root.Core.DB,
		"core.upload": m.root.Core.Upload,
		"core.http":   m.root.Core.HTTP,
	}
}

func (m *Manager) applyDefaults(prefix string, section any) error {
	d, ok := section.(Defaults)
	if !ok {
		return nil
	}

	defaults := map[string]any{}
	for key, value := range d.Defaults() {
		full := prefix + "." + key
		if !m.config.Exists(full) {
			defaults[full] = value
		}
	}

	if len(defaults) == 0 {
		return nil
	}

	return m.config.Load(confmap.Provider(defaults, "."), nil)
}

func loadConfigFile() (*koanf.Koanf, error) {
	k := koanf.New(".")

	for _, path := range configFilePaths {
		expanded := os.ExpandEnv(path)
		if _, err := os.Stat(expanded); err != nil {
			continue
		}

		if err := k.Load(file.Provider(expanded), yaml.Parser()); err != nil {
			return nil, err
		}

		return k, nil
	}

	return k, errConfigFileNotFound
}

func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "UNIFY_UPLOADS_"))
	return strings.ReplaceAll(s, "__", ".")
}
