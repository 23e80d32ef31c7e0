package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// relayConfig is the runtime shape assembled from defaults plus config.toml
// overrides.
type relayConfig struct {
	App          string
	Addr         string
	TickInterval time.Duration
	TickCount    int
}

// tson-relay config.toml key mapping.
type fileConfig struct {
	App            string `toml:"app"`
	Addr           string `toml:"addr"`
	TickIntervalMS int    `toml:"tick_interval_ms"`
	TickCount      int    `toml:"tick_count"`
}

func defaultConfig() relayConfig {
	return relayConfig{
		App:          "tson-relay",
		Addr:         ":8750",
		TickInterval: 500 * time.Millisecond,
		TickCount:    5,
	}
}

// loadConfig overlays config.toml onto defaults; only keys present in the
// file override.
func loadConfig(path string) (relayConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return relayConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("app") {
		cfg.App = strings.TrimSpace(raw.App)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("tick_interval_ms") {
		cfg.TickInterval = time.Duration(raw.TickIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("tick_count") {
		cfg.TickCount = raw.TickCount
	}
	if err := validateConfig(cfg); err != nil {
		return relayConfig{}, err
	}
	return cfg, nil
}

func validateConfig(cfg relayConfig) error {
	if strings.TrimSpace(cfg.App) == "" {
		return fmt.Errorf("relay config missing app")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("relay config tick_interval_ms must be positive")
	}
	if cfg.TickCount <= 0 {
		return fmt.Errorf("relay config tick_count must be positive")
	}
	return nil
}
