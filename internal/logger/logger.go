package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes rotated log destinations.
// Path receives the tool's own log. When CommandDir is set, waiters tee their
// command output to CommandDir/<name>.stdout.log and CommandDir/<name>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string // tool log file; empty disables
	CommandDir string // base directory for command output logs
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Config describes the process logger.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Color  bool   // colorize text output when stderr is a terminal
	File   FileConfig
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing to w and, when File.Path is set, to a rotated file.
// The returned closer releases the file and must be called before exit.
func (c Config) New(w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	switch strings.ToLower(c.Format) {
	case "json":
		console = slog.NewJSONHandler(w, opts)
	case "", "text":
		if c.Color && isTerminal(w) {
			console = NewColorTextHandler(w, opts, false)
		} else {
			console = slog.NewTextHandler(w, opts)
		}
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", c.Format)
	}

	if c.File.Path == "" {
		return slog.New(console), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File.Path), 0o750); err != nil {
		return nil, nil, err
	}
	fileW := c.File.rotated(c.File.Path)
	h := fanout{console, slog.NewJSONHandler(fileW, opts)}
	return slog.New(h), fileW, nil
}

// CommandWriters returns io.WriteClosers for stdout and stderr of the named command.
// Both are nil when CommandDir is empty.
func (f FileConfig) CommandWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	if f.CommandDir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(f.CommandDir, 0o750); err != nil {
		return nil, nil, err
	}
	stdout := filepath.Join(f.CommandDir, fmt.Sprintf("%s.stdout.log", name))
	stderr := filepath.Join(f.CommandDir, fmt.Sprintf("%s.stderr.log", name))
	return f.rotated(stdout), f.rotated(stderr), nil
}

func (f FileConfig) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
