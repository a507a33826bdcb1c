package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// cliConfig holds the effective CLI settings after overlaying the
// config file onto the defaults.
type cliConfig struct {
	Server     string
	Timeout    time.Duration
	PassFile   string
	Device     string
	Resolution int
	Mode       string
}

func defaultConfig() cliConfig {
	return cliConfig{
		Server:  "localhost",
		Timeout: 30 * time.Second,
	}
}

// sanescan config.toml key mapping.
type fileConfig struct {
	Server         string `toml:"server"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PassFile       string `toml:"pass_file"`
	Device         string `toml:"device"`
	Resolution     int    `toml:"resolution"`
	Mode           string `toml:"mode"`
}

// defaultConfigPath is ~/.config/sanescan.toml.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sanescan.toml")
}

// loadConfig reads a TOML config with default overlay. A missing file
// at the default path is fine; an explicitly named file must exist.
func loadConfig(path string, required bool) (cliConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cliConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("timeout_seconds") {
		cfg.Timeout = time.Duration(raw.TimeoutSeconds) * time.Second
	}
	if meta.IsDefined("pass_file") {
		cfg.PassFile = strings.TrimSpace(raw.PassFile)
	}
	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("resolution") {
		cfg.Resolution = raw.Resolution
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.TrimSpace(raw.Mode)
	}
	return cfg, nil
}
