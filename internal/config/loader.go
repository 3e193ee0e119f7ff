package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "KITOOL"

// ErrNoConfigPath is returned when no path was given and the home
// directory cannot be resolved.
var ErrNoConfigPath = errors.New("no config path and no home directory")

// Loader reads and writes one JSON config file
type Loader struct {
	configPath string
}

// NewLoader creates a loader for configPath; empty means ~/.kitool/kitool.json
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Path returns the config file path, or "" when it cannot be resolved
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kitool", "kitool.json")
}

func (l *Loader) newViper() (*viper.Viper, string, error) {
	path := l.Path()
	if path == "" {
		return nil, "", ErrNoConfigPath
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v, path, nil
}

// Load layers the defaults, the file (when it exists) and KITOOL_*
// variables, in that order.
func (l *Loader) Load() (*Config, error) {
	v, path, err := l.newViper()
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	}
	return cfg, nil
}

// Save writes cfg to the config file, creating its directory.
func (l *Loader) Save(cfg *Config) error {
	v, path, err := l.newViper()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	rv := reflect.ValueOf(cfg).Elem()
	for i := 0; i < rv.NumField(); i++ {
		if key := fieldKey(rv.Type().Field(i)); key != "" {
			v.Set(key, rv.Field(i).Interface())
		}
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config at configPath
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

var durationType = reflect.TypeOf(time.Duration(0))

// envKeys lists every scalar setting as a dotted key, e.g.
// "shell.timeout". viper only consults the environment for keys it knows,
// so each one is bound explicitly; this lets KITOOL_SHELL_TIMEOUT apply
// even without a config file. Lists and maps are file-only.
func envKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			key := fieldKey(field)
			if key == "" {
				continue
			}
			switch {
			case field.Type == durationType:
				keys = append(keys, prefix+key)
			case field.Type.Kind() == reflect.Struct:
				walk(field.Type, prefix+key+".")
			case field.Type.Kind() == reflect.Slice, field.Type.Kind() == reflect.Map:
			default:
				keys = append(keys, prefix+key)
			}
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

func fieldKey(field reflect.StructField) string {
	if !field.IsExported() {
		return ""
	}
	key, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
	if key == "-" {
		return ""
	}
	return key
}
