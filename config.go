package rdo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// =====================================
// Configuration
// =====================================

// Config describes a database connection used to open an adapter.
type Config struct {
	// Connection details
	Driver        string `json:"driver" yaml:"driver"`
	ConnectionURL string `json:"connection_url" yaml:"connection_url"`
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Database      string `json:"database" yaml:"database"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Additional options, keyed by adapter ("bun", "gorm", "redis")
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

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeConfiguration, "failed to read config "+path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration and validates it.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, NewErrorWithCause(ErrorTypeConfiguration, "failed to parse config", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks that the configuration names a supported driver and
// enough connection details to reach it.
func (c Config) Validate() error {
	dialect := NormalizeDialect(c.Driver)
	if dialect == "" {
		return NewError(ErrorTypeUnsupported, fmt.Sprintf("unsupported driver: %q", c.Driver))
	}
	if c.ConnectionURL != "" {
		return nil
	}
	if dialect == DialectSQLite {
		if c.Database == "" {
			return configErrorf("sqlite requires a database path")
		}
		return nil
	}
	if c.Host == "" || c.Database == "" {
		return configErrorf("%s requires a host and a database", c.Driver)
	}
	return nil
}

// Dialect returns the dialect of the configured driver.
func (c Config) Dialect() string {
	return NormalizeDialect(c.Driver)
}

// Section returns the options of one adapter, or nil.
func (c Config) Section(name string) map[string]interface{} {
	section, _ := c.Options[name].(map[string]interface{})
	return section
}

// OptionString returns a string option of an adapter section.
func (c Config) OptionString(section, key string) (string, bool) {
	v, ok := c.Section(section)[key].(string)
	return v, ok
}

// OptionBool returns a boolean option of an adapter section.
func (c Config) OptionBool(section, key string) (bool, bool) {
	v, ok := c.Section(section)[key].(bool)
	return v, ok
}

// OptionDuration returns a duration option of an adapter section, given
// either as a string ("30s") or as a number of seconds.
func (c Config) OptionDuration(section, key string) (time.Duration, bool) {
	switch v := c.Section(section)[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	case int:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	}
	return 0, false
}
