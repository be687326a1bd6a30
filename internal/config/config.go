package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Policy   PolicyConfig   `mapstructure:"policy"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

type CORSConfig struct {
	AllowOrigin  string `mapstructure:"allow_origin"`
	AllowHeaders string `mapstructure:"allow_headers"`
}

// AuthConfig selects how callers authenticate before reaching the gateway.
// Mode "none" leaves the endpoint open, "api_key" compares the X-Api-Key
// header against a bcrypt hash, "jwt" requires a signed HS256 bearer token.
type AuthConfig struct {
	Mode       string `mapstructure:"mode"`
	APIKeyHash string `mapstructure:"api_key_hash"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

type AuditConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	BufferSize      int  `mapstructure:"buffer_size"`
	FlushIntervalMs int  `mapstructure:"flush_interval_ms"`
}

// PolicyConfig is the raw, file-shaped form of the authorization policy.
// A table absent from every list is denied for every operation.
type PolicyConfig struct {
	Readable        []string            `mapstructure:"readable"`
	Writable        []string            `mapstructure:"writable"`
	Deletable       []string            `mapstructure:"deletable"`
	FilterRequired  []string            `mapstructure:"filter_required"`
	ProtectedFields map[string][]string `mapstructure:"protected_fields"`
	WriteGuards     map[string]string   `mapstructure:"write_guards"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("cors.allow_origin", "http://localhost:3000")
	viper.SetDefault("cors.allow_headers", "Content-Type, Authorization, X-Api-Key")
	viper.SetDefault("auth.mode", "none")
	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.buffer_size", 500)
	viper.SetDefault("audit.flush_interval_ms", 100)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
