// Package config loads the registry server configuration from a config
// file, environment variables and command line flags, in ascending order
// of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Database selects the SQL backend holding the registry tables.
type Database struct {
	// Type is sqlite, postgres or mysql.
	Type string `mapstructure:"type"`
	// DSN is the driver-specific connection string, or the file path for
	// sqlite.
	DSN string `mapstructure:"dsn"`
}

// SMTP configures outgoing mail. An empty Addr disables delivery and
// resets are logged instead.
type SMTP struct {
	Addr string `mapstructure:"addr"`
	From string `mapstructure:"from"`
}

// Config is the full server configuration.
type Config struct {
	Listen      string   `mapstructure:"listen"`
	TmpDir      string   `mapstructure:"tmp_dir"`
	DownloadDir string   `mapstructure:"download_dir"`
	Database    Database `mapstructure:"database"`
	SMTP        SMTP     `mapstructure:"smtp"`
	LogLevel    string   `mapstructure:"log_level"`
}

// defaults returns the built-in configuration values.
func defaults() map[string]any {
	return map[string]any{
		"listen":        ":8080",
		"tmp_dir":       "tmp",
		"download_dir":  "downloads",
		"database.type": "sqlite",
		"database.dsn":  "packreg.db",
		"smtp.addr":     "",
		"smtp.from":     "registry@localhost",
		"log_level":     "info",
	}
}

// Load resolves the configuration for a command invocation. The optional
// configFile overrides the search in the working directory; environment
// variables use the PACKREG_ prefix with dots replaced by underscores
// (PACKREG_DATABASE_DSN); bound command flags win over everything.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("packreg")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("packreg")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database type %q (expected sqlite, postgres or mysql)", c.Database.Type)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	return nil
}
