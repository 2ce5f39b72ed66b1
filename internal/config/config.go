package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries every recognized option. Defaults match a two-replica
// deployment on one host; environment variables override, an optional .env
// file overrides defaults too.
type Config struct {
	Role               string `mapstructure:"ROLE"`
	HTTPPort           int    `mapstructure:"HTTP_PORT"`
	PrimaryRPCPort     int    `mapstructure:"PRIMARY_RPC_PORT"`
	BackupRPCPort      int    `mapstructure:"BACKUP_RPC_PORT"`
	BackupHost         string `mapstructure:"BACKUP_HOST"`
	HealthIntervalMS   int    `mapstructure:"HEALTH_INTERVAL_MS"`
	ReplicateTimeoutMS int    `mapstructure:"REPLICATE_TIMEOUT_MS"`
	PingTimeoutMS      int    `mapstructure:"PING_TIMEOUT_MS"`
	StateDir           string `mapstructure:"STATE_DIR"`
}

const (
	RolePrimary = "primary"
	RoleBackup  = "backup"
)

func Load() (Config, error) {
	viper.SetDefault("ROLE", RolePrimary)
	viper.SetDefault("HTTP_PORT", 8000)
	viper.SetDefault("PRIMARY_RPC_PORT", 50051)
	viper.SetDefault("BACKUP_RPC_PORT", 50052)
	viper.SetDefault("BACKUP_HOST", "localhost")
	viper.SetDefault("HEALTH_INTERVAL_MS", 5000)
	viper.SetDefault("REPLICATE_TIMEOUT_MS", 5000)
	viper.SetDefault("PING_TIMEOUT_MS", 2000)
	viper.SetDefault("STATE_DIR", "./data")

	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig() // .env is optional

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if c.Role != RolePrimary && c.Role != RoleBackup {
		return Config{}, fmt.Errorf("ROLE must be %q or %q, got %q", RolePrimary, RoleBackup, c.Role)
	}
	return c, nil
}

func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalMS) * time.Millisecond
}

func (c Config) ReplicateTimeout() time.Duration {
	return time.Duration(c.ReplicateTimeoutMS) * time.Millisecond
}

func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMS) * time.Millisecond
}

func (c Config) BackupRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.BackupHost, c.BackupRPCPort)
}
