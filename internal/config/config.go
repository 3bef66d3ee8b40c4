package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/agentctl/internal/logger"
)

// Config is the controller configuration loaded from YAML.
type Config struct {
	Agents   AgentsConfig   `mapstructure:"agents"`
	Bus      BusConfig      `mapstructure:"bus"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      logger.Config  `mapstructure:"log"`
}

// AgentsConfig covers discovery and the restart policy.
type AgentsConfig struct {
	Directory           string        `mapstructure:"directory"`
	AutoDiscover        bool          `mapstructure:"auto_discover"`
	AutoStart           bool          `mapstructure:"auto_start"`
	RestartOnFailure    bool          `mapstructure:"restart_on_failure"`
	MaxRestartAttempts  int           `mapstructure:"max_restart_attempts"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	StopTimeout         time.Duration `mapstructure:"stop_timeout"`
	RestartBackoff      time.Duration `mapstructure:"restart_backoff"`
}

type BusConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// HistoryConfig names optional external sinks for lifecycle events.
type HistoryConfig struct {
	PostgresDSN     string `mapstructure:"postgres_dsn"`
	ClickHouseAddr  string `mapstructure:"clickhouse_addr"`
	ClickHouseTable string `mapstructure:"clickhouse_table"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agents.directory", "./agents")
	v.SetDefault("agents.auto_discover", true)
	v.SetDefault("agents.auto_start", false)
	v.SetDefault("agents.restart_on_failure", true)
	v.SetDefault("agents.max_restart_attempts", 3)
	v.SetDefault("agents.health_check_interval", time.Minute)
	v.SetDefault("agents.stop_timeout", 10*time.Second)
	v.SetDefault("agents.restart_backoff", time.Duration(0))
	v.SetDefault("bus.capacity", 1000)
	v.SetDefault("database.path", "./data/master.db")
	v.SetDefault("history.clickhouse_table", "agent_history")
	v.SetDefault("server.listen", "127.0.0.1:8080")
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Default returns the built-in configuration.
func Default() Config {
	c, _ := Load("")
	return c
}
