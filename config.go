package gem

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =====================================
// Configuration
// =====================================

// Config represents the connection settings of a data source adapter
type Config struct {
	// Connection details
	Driver        string `json:"driver" yaml:"driver"`
	ConnectionURL string `json:"connection_url" yaml:"connection_url"`
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Database      string `json:"database" yaml:"database"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`

	// Table names the table, collection, key prefix or object prefix
	// records of one entity type live under
	Table string `json:"table" yaml:"table"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Adapter specific options, keyed by adapter name:
	//   options:
	//     gorm:
	//       log_level: warn
	Options map[string]interface{} `json:"options" yaml:"options"`

	// SSL/TLS configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl"`
}

// SSLConfig represents SSL/TLS configuration
type SSLConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Mode     string `json:"mode" yaml:"mode"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeInvalidArgument, fmt.Sprintf("read config %s", path), err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration and checks it
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeSerialization, "decode config", err)
	}
	if err := config.CheckConfiguration(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// CheckConfiguration validates driver and pool settings
func (c Config) CheckConfiguration() error {
	if c.Driver == "" {
		return NewError(ErrorTypeValidation, "driver is required")
	}
	if !IsDriverSupported(c.Driver) {
		return errorf(ErrorTypeValidation, "unsupported driver %q", c.Driver)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errorf(ErrorTypeValidation, "port %d out of range", c.Port)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return NewError(ErrorTypeValidation, "connection pool sizes must not be negative")
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return errorf(ErrorTypeValidation, "max_idle_conns %d exceeds max_open_conns %d", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 {
		return NewError(ErrorTypeValidation, "connection lifetimes must not be negative")
	}
	if c.SSL.Enabled && c.SSL.KeyFile != "" && c.SSL.CertFile == "" {
		return NewError(ErrorTypeValidation, "ssl key_file requires cert_file")
	}
	return nil
}

// TableOr returns Table, or fallback when unset
func (c Config) TableOr(fallback string) string {
	if c.Table != "" {
		return c.Table
	}
	return fallback
}

// Option returns Options[adapter][key]
func (c Config) Option(adapter, key string) (interface{}, bool) {
	options, ok := c.Options[adapter]
	if !ok {
		return nil, false
	}
	switch opts := options.(type) {
	case map[string]interface{}:
		v, ok := opts[key]
		return v, ok
	case map[interface{}]interface{}:
		v, ok := opts[key]
		return v, ok
	}
	return nil, false
}

// OptionString returns a string option, or fallback when unset
func (c Config) OptionString(adapter, key, fallback string) string {
	v, ok := c.Option(adapter, key)
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

// OptionInt returns an integer option, or fallback when unset or not numeric
func (c Config) OptionInt(adapter, key string, fallback int64) int64 {
	v, ok := c.Option(adapter, key)
	if !ok {
		return fallback
	}
	value, err := ValueOf(v)
	if err != nil {
		return fallback
	}
	switch value.Kind() {
	case KindInt, KindFloat:
		return value.AsInt()
	case KindString:
		if n, err := strconv.ParseInt(value.AsString(), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// OptionBool returns a boolean option, or fallback when unset
func (c Config) OptionBool(adapter, key string, fallback bool) bool {
	v, ok := c.Option(adapter, key)
	if !ok {
		return fallback
	}
	value, err := ValueOf(v)
	if err != nil {
		return fallback
	}
	if value.Kind() == KindString {
		switch strings.ToLower(value.AsString()) {
		case "true", "yes", "on":
			return true
		case "false", "no", "off":
			return false
		}
	}
	return value.AsBool()
}

// OptionDuration returns a duration option given as a Go duration string
// or as whole seconds, or fallback when unset or malformed
func (c Config) OptionDuration(adapter, key string, fallback time.Duration) time.Duration {
	v, ok := c.Option(adapter, key)
	if !ok {
		return fallback
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(d))
		if err != nil {
			return fallback
		}
		return parsed
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return fallback
}
