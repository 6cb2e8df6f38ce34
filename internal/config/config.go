package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/superslots/internal/logger"
	"github.com/loykin/superslots/internal/registry"
)

const (
	stateDirName   = ".superslots"
	dbFileName     = "register.db"
	configFileName = "config.toml"
	logFileName    = "superslots.log"
)

// FileConfig represents the top-level TOML structure.
//
//	stale_after = "1h"
//
//	[store]
//	dsn = ""
//	busy_timeout = "5s"
//
//	[log]
//	level = "info"
//	format = "text"
//	color = true
//	file = ""          # "-" disables the log file
//	command_dir = ""
//
//	[history]
//	dsn = ""
//
//	[metrics]
//	textfile_dir = ""
//
//	[sweep]
//	on_trigger = false
type FileConfig struct {
	StaleAfter time.Duration `toml:"stale_after" mapstructure:"stale_after"`
	Store      StoreConfig   `toml:"store" mapstructure:"store"`
	Log        LogConfig     `toml:"log" mapstructure:"log"`
	History    HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Sweep      SweepConfig   `toml:"sweep" mapstructure:"sweep"`
}

type StoreConfig struct {
	DSN         string        `toml:"dsn" mapstructure:"dsn"`
	BusyTimeout time.Duration `toml:"busy_timeout" mapstructure:"busy_timeout"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	CommandDir string `toml:"command_dir" mapstructure:"command_dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	TextfileDir string `toml:"textfile_dir" mapstructure:"textfile_dir"`
}

type SweepConfig struct {
	OnTrigger bool `toml:"on_trigger" mapstructure:"on_trigger"`
}

// Config is the resolved configuration of one invocation.
type Config struct {
	FileConfig
	StateDir string // directory holding the registry, log and config file
	Source   string // config file that was read; empty when only defaults apply
}

// DefaultStateDir returns ~/.superslots for the invoking user.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, stateDirName), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stale_after", registry.DefaultStaleAfter)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.busy_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("sweep.on_trigger", false)
}

// Load reads configuration for stateDir. When path is empty the optional
// stateDir/config.toml is used; an explicit path must exist.
func Load(path, stateDir string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	source := ""
	if path != "" {
		source = path
	} else {
		def := filepath.Join(stateDir, configFileName)
		if _, err := os.Stat(def); err == nil {
			source = def
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if source != "" {
		v.SetConfigFile(source)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", source, err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c := Config{FileConfig: fc, StateDir: stateDir, Source: source}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive, got %s", c.StaleAfter)
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("store.busy_timeout must not be negative, got %s", c.Store.BusyTimeout)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// StoreDSN returns the configured registry DSN or the default SQLite file.
func (c Config) StoreDSN() string {
	if strings.TrimSpace(c.Store.DSN) != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.StateDir, dbFileName)
}

// Logger converts the log section into a logger.Config.
func (c Config) Logger() logger.Config {
	path := c.Log.File
	switch path {
	case "":
		path = filepath.Join(c.StateDir, logFileName)
	case "-":
		path = ""
	}
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Color:  c.Log.Color,
		File: logger.FileConfig{
			Path:       path,
			CommandDir: c.Log.CommandDir,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}
