package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
)

// Config holds all applogic configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string   `json:"listen_addr" mapstructure:"listen_addr"`
	DBPath      string   `json:"db_path" mapstructure:"db_path"`
	Store       bool     `json:"store" mapstructure:"store"`
	Metrics     bool     `json:"metrics" mapstructure:"metrics"`
	LogLevel    string   `json:"log_level" mapstructure:"log_level"`
	LogFormat   string   `json:"log_format" mapstructure:"log_format"`
	Bundles     []string `json:"bundles,omitempty" mapstructure:"bundles"`
	PathLimit   int      `json:"path_limit" mapstructure:"path_limit"`
	Concurrency int      `json:"concurrency" mapstructure:"concurrency"`
	BinDir      string   `json:"bin_dir" mapstructure:"bin_dir"`
}

// configKeys lists the settings keys; env vars are APPLOGIC_<KEY>.
var configKeys = []string{
	"listen_addr", "db_path", "store", "metrics", "log_level", "log_format",
	"bundles", "path_limit", "concurrency", "bin_dir",
}

const envPrefix = "APPLOGIC_"

func defaultConfig() Config {
	dir := applogicDir()
	return Config{
		ListenAddr:  ":4200",
		DBPath:      filepath.Join(dir, "applogic.db"),
		Store:       true,
		Metrics:     true,
		LogLevel:    "info",
		LogFormat:   "text",
		PathLimit:   10000,
		Concurrency: 4,
		BinDir:      filepath.Join(dir, "bin"),
	}
}

func applogicDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".applogic"
	}
	return filepath.Join(home, ".applogic")
}

func defaultSettingsPath() string {
	return filepath.Join(applogicDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(applogicDir(), "applogic.pid")
}

// loadConfig layers settings.json and the environment over the defaults.
// A missing settings file is not an error; a malformed one is.
func loadConfig(settingsPath string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(settingsPath); err == nil {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("settings %s: %w", settingsPath, err)
		}
		if err := decodeInto(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("settings %s: %w", settingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read settings: %w", err)
	}

	env := map[string]any{}
	for _, key := range configKeys {
		if v := getenv(envPrefix + strings.ToUpper(key)); v != "" {
			env[key] = v
		}
	}
	if err := decodeInto(env, &cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line whose
// name matches a settings key, dashes read as underscores.
func applyFlags(flags *pflag.FlagSet, cfg *Config) error {
	raw := map[string]any{}
	flags.Visit(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		for _, k := range configKeys {
			if k != key {
				continue
			}
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				raw[key] = sv.GetSlice()
			} else {
				raw[key] = f.Value.String()
			}
		}
	})
	if err := decodeInto(raw, cfg); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}

func decodeInto(raw map[string]any, cfg *Config) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
