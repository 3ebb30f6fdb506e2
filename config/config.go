package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Port int `toml:"port"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`    // For JWT signing
	PasswordHash string `toml:"password_hash"` // bcrypt hash of the operator password
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type EncryptionConfig struct {
	Key string `toml:"key"` // 32-byte key for AES encryption of mailbox credentials
}

type MonitorConfig struct {
	PollingInterval int    `toml:"polling_interval"` // seconds, default cycle interval
	AutoClick       bool   `toml:"auto_click"`
	AccountTimeout  int    `toml:"account_timeout"` // seconds, per-account poll budget
	ClickTimeout    int    `toml:"click_timeout"`   // seconds, verification request budget
	MaxRetries      int    `toml:"max_retries"`     // verification request retries
	UserAgent       string `toml:"user_agent"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Storage    StorageConfig    `toml:"storage"`
	Encryption EncryptionConfig `toml:"encryption"`
	Monitor    MonitorConfig    `toml:"monitor"`
}

func LoadConfig(filepath string) (*Config, error) {
	var config Config

	// Set default values
	config.Server.Port = 8000
	config.Storage.DataDir = "./data"
	config.Monitor.PollingInterval = 60
	config.Monitor.AutoClick = true
	config.Monitor.AccountTimeout = 120
	config.Monitor.ClickTimeout = 30
	config.Monitor.MaxRetries = 2
	config.Monitor.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// Load config file
	_, err := toml.DecodeFile(filepath, &config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the fields that have no usable fallback
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password_hash is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("encryption.key must be exactly 32 bytes, got %d", len(c.Encryption.Key))
	}
	return nil
}
