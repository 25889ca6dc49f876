// Package config loads the optional TOML server configuration. Flags given on
// the command line take precedence over file values.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// SeedUser is one user pre-registered at startup.
type SeedUser struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Config is the server configuration file.
type Config struct {
	Addr  string     `toml:"addr"`
	DB    string     `toml:"db"`
	Debug bool       `toml:"debug"`
	Users []SeedUser `toml:"users"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		DB:   "yack.db",
	}
}

// Load reads the file at path on top of the defaults. A missing file is an
// error; callers treat an empty path as "defaults only".
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
