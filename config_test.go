package gem

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
driver: postgresql
host: localhost
port: 5432
database: app
username: user
password: pass
table: users
max_open_conns: 10
max_idle_conns: 5
conn_max_lifetime: 1h
ssl:
  enabled: true
  mode: require
options:
  gorm:
    log_level: info
  redis:
    dial_timeout: 2s
    ttl: 30
    pool: "8"
    cluster: "yes"
`

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgresql", config.Driver)
	assert.Equal(t, 5432, config.Port)
	assert.Equal(t, "users", config.Table)
	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.True(t, config.SSL.Enabled)
	assert.Equal(t, "require", config.SSL.Mode)

	assert.Equal(t, "info", config.OptionString("gorm", "log_level", "warn"))
	assert.Equal(t, "warn", config.OptionString("bun", "log_level", "warn"))
	assert.Equal(t, 2*time.Second, config.OptionDuration("redis", "dial_timeout", 0))
	assert.Equal(t, 30*time.Second, config.OptionDuration("redis", "ttl", 0))
	assert.Equal(t, int64(8), config.OptionInt("redis", "pool", 1))
	assert.True(t, config.OptionBool("redis", "cluster", false))
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("driver: [unterminated"))
	assert.True(t, IsErrorType(err, ErrorTypeSerialization))

	_, err = ParseConfig([]byte("driver: oracle"))
	assert.True(t, IsValidation(err))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "app", config.Database)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsInvalidArgument(err))
}

func TestConfigCheckConfiguration(t *testing.T) {
	valid := Config{Driver: "sqlite", MaxOpenConns: 4, MaxIdleConns: 2}
	require.NoError(t, valid.CheckConfiguration())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing driver", func(c *Config) { c.Driver = "" }},
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"negative pool", func(c *Config) { c.MaxOpenConns = -1 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 8 }},
		{"negative lifetime", func(c *Config) { c.ConnMaxLifetime = -time.Second }},
		{"key without cert", func(c *Config) { c.SSL = SSLConfig{Enabled: true, KeyFile: "/key.pem"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.mutate(&config)
			assert.True(t, IsValidation(config.CheckConfiguration()))
		})
	}
}

func TestConfigOptions(t *testing.T) {
	config := Config{
		Table: "",
		Options: map[string]interface{}{
			"mongodb": map[interface{}]interface{}{"max_pool_size": 20},
			"redis": map[string]interface{}{
				"ttl":        1.5,
				"read":       "bogus",
				"path_style": "off",
				"flag":       1,
				"interval":   5 * time.Minute,
			},
			"broken": "not a map",
		},
	}

	assert.Equal(t, "entities", config.TableOr("entities"))
	config.Table = "users"
	assert.Equal(t, "users", config.TableOr("entities"))

	assert.Equal(t, int64(20), config.OptionInt("mongodb", "max_pool_size", 0))
	assert.Equal(t, int64(7), config.OptionInt("mongodb", "missing", 7))
	assert.Equal(t, 1500*time.Millisecond, config.OptionDuration("redis", "ttl", 0))
	assert.Equal(t, time.Second, config.OptionDuration("redis", "read", time.Second))
	assert.Equal(t, 5*time.Minute, config.OptionDuration("redis", "interval", 0))
	assert.False(t, config.OptionBool("redis", "path_style", true))
	assert.True(t, config.OptionBool("redis", "flag", false))
	assert.Equal(t, "20", config.OptionString("mongodb", "max_pool_size", ""))

	_, ok := config.Option("broken", "anything")
	assert.False(t, ok)
}
