// Package config loads per-Engine settings the same way the wider
// ecosystem does: a viper instance layering defaults, an optional
// config.yaml, and VERTEXDB_-prefixed environment variables, in that
// precedence order (env wins, then file, then default).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the resolved set of engine-wide settings. Open reads one of
// these before touching the store so the busy timeout and journal mode
// it applies can be overridden without a code change.
type Config struct {
	// BusyTimeout is passed to SQLite's PRAGMA busy_timeout.
	BusyTimeout time.Duration
	// JournalMode is passed to SQLite's PRAGMA journal_mode.
	JournalMode string
	// LockTimeout bounds how long Open waits for the advisory file lock
	// before concluding another process already owns the database.
	LockTimeout time.Duration
	// LogLevel is the minimum level the engine's slog logger emits at.
	LogLevel string
	// WALCheckpointPages is passed to SQLite's PRAGMA wal_autocheckpoint:
	// the WAL grows to roughly this many pages before a checkpoint runs
	// automatically. 0 disables automatic checkpointing.
	WALCheckpointPages int
	// CompletionCaseSensitive controls whether internal/completion's
	// prefix search (spec §4.6) matches labels case-sensitively. SQLite's
	// own LIKE operator is case-insensitive for ASCII by default, which is
	// why this defaults to false.
	CompletionCaseSensitive bool
}

// Load builds a Config from defaults, an optional file at path (skipped
// if path is ""), and VERTEXDB_-prefixed environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VERTEXDB")
	v.AutomaticEnv()

	v.SetDefault("busy_timeout", "5s")
	v.SetDefault("journal_mode", "WAL")
	v.SetDefault("lock_timeout", "200ms")
	v.SetDefault("log_level", "info")
	v.SetDefault("wal_checkpoint_pages", 1000)
	v.SetDefault("completion_case_sensitive", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("vertexdb: read config %s: %w", path, err)
		}
	}

	busyTimeout, err := time.ParseDuration(v.GetString("busy_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("vertexdb: parse busy_timeout: %w", err)
	}
	lockTimeout, err := time.ParseDuration(v.GetString("lock_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("vertexdb: parse lock_timeout: %w", err)
	}

	return Config{
		BusyTimeout:             busyTimeout,
		JournalMode:             v.GetString("journal_mode"),
		LockTimeout:             lockTimeout,
		LogLevel:                v.GetString("log_level"),
		WALCheckpointPages:      v.GetInt("wal_checkpoint_pages"),
		CompletionCaseSensitive: v.GetBool("completion_case_sensitive"),
	}, nil
}

// Default returns the Config Load would produce with no file and no
// environment overrides present, for callers that Open without a config
// file at all.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults alone never fail to parse; a failure here is a bug in
		// the default values above, not a runtime condition.
		panic(fmt.Sprintf("vertexdb: invalid built-in config defaults: %v", err))
	}
	return cfg
}

// fileForm is the YAML shape WriteDefault emits; field names are the same
// keys Load reads back through viper.
type fileForm struct {
	BusyTimeout             string `yaml:"busy_timeout"`
	JournalMode             string `yaml:"journal_mode"`
	LockTimeout             string `yaml:"lock_timeout"`
	LogLevel                string `yaml:"log_level"`
	WALCheckpointPages      int    `yaml:"wal_checkpoint_pages"`
	CompletionCaseSensitive bool   `yaml:"completion_case_sensitive"`
}

// WriteDefault writes a starter config.yaml at path containing the
// built-in defaults, for an operator who wants to override one setting
// without having to learn every key from scratch.
func WriteDefault(path string) error {
	cfg := Default()
	out, err := yaml.Marshal(fileForm{
		BusyTimeout:             cfg.BusyTimeout.String(),
		JournalMode:             cfg.JournalMode,
		LockTimeout:             cfg.LockTimeout.String(),
		LogLevel:                cfg.LogLevel,
		WALCheckpointPages:      cfg.WALCheckpointPages,
		CompletionCaseSensitive: cfg.CompletionCaseSensitive,
	})
	if err != nil {
		return fmt.Errorf("vertexdb: marshal default config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("vertexdb: write default config %s: %w", path, err)
	}
	return nil
}
