package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// CountAll is the count sentinel meaning "all units".
const CountAll = ^uint64(0)

// FollowMode selects how file identity is tracked while following.
type FollowMode int

const (
	// FollowNone runs one-shot extraction only.
	FollowNone FollowMode = iota
	// FollowDescriptor keeps tracking the originally opened file even if
	// its name is later reused.
	FollowDescriptor
	// FollowName tracks whatever file currently has the given name,
	// reopening across rotation.
	FollowName
)

// HeaderMode selects when per-file headers are emitted.
type HeaderMode int

const (
	// HeaderMultiple prints headers only when more than one file is given.
	HeaderMultiple HeaderMode = iota
	HeaderAlways
	HeaderNever
)

// Options is the fully resolved invocation configuration.
type Options struct {
	// Paths lists the input operands; "-" denotes standard input.
	Paths []string

	// Lines selects line counting; otherwise Count is bytes.
	Lines bool
	// Count is the trailing window or, with FromStart, the skip count.
	Count     uint64
	FromStart bool

	Follow FollowMode
	// Retry keeps trying names that are currently inaccessible.
	Retry bool

	// SleepInterval is the pause between poll iterations.
	SleepInterval time.Duration
	// MaxUnchangedStats is how many unchanged poll iterations are
	// tolerated before forcing a reopen when following by name.
	MaxUnchangedStats uint

	// PIDs are writer processes whose death ends following.
	PIDs []int

	// DisableInotify forces the poll follower.
	DisableInotify bool

	// Terminator is the line terminator byte.
	Terminator byte

	Headers HeaderMode

	// PresumePipe forces the streaming extraction paths.
	PresumePipe bool

	LogLevel  string
	LogFormat string
}

// Default returns the built-in option values.
func Default() Options {
	return Options{
		Lines:             true,
		Count:             10,
		SleepInterval:     time.Second,
		MaxUnchangedStats: 5,
		Terminator:        '\n',
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// FollowByName reports whether rotation of a name must be chased.
func (o *Options) FollowByName() bool { return o.Follow == FollowName }

// Following reports whether any follow mode is active.
func (o *Options) Following() bool { return o.Follow != FollowNone }

// PrintHeaders resolves the header policy against the operand count.
func (o *Options) PrintHeaders() bool {
	switch o.Headers {
	case HeaderAlways:
		return true
	case HeaderNever:
		return false
	default:
		return len(o.Paths) > 1
	}
}

// Validate rejects option combinations the engine cannot honor.
func (o *Options) Validate() error {
	if o.SleepInterval < 0 {
		return fmt.Errorf("invalid sleep interval %v", o.SleepInterval)
	}
	if o.MaxUnchangedStats < 1 {
		return fmt.Errorf("invalid maximum number of unchanged stats %d", o.MaxUnchangedStats)
	}
	for _, pid := range o.PIDs {
		if pid <= 0 {
			return fmt.Errorf("invalid PID %d", pid)
		}
	}
	if o.Follow == FollowName {
		for _, p := range o.Paths {
			if p == "-" {
				return errors.New(`cannot follow "-" by name`)
			}
		}
	}
	if o.SleepInterval > time.Duration(math.MaxInt64/2) {
		return fmt.Errorf("invalid sleep interval %v", o.SleepInterval)
	}
	return nil
}

// File is the optional TOML defaults file.
type File struct {
	SleepInterval     float64 `toml:"sleep_interval"`
	MaxUnchangedStats uint    `toml:"max_unchanged_stats"`
	DisableInotify    bool    `toml:"disable_inotify"`
	LogLevel          string  `toml:"log_level"`
	LogFormat         string  `toml:"log_format"`
}

// DefaultPath returns the per-user defaults file location, or "" when no
// user config directory exists.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gtail", "config.toml")
}

// LoadFile reads a defaults file. A missing file yields zero defaults and
// no error so the built-ins apply.
func LoadFile(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return f, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Apply folds file defaults into o without overriding values the caller
// already set away from the built-in defaults.
func (f File) Apply(o *Options, sleepSet, maxStatsSet bool) {
	if f.SleepInterval > 0 && !sleepSet {
		o.SleepInterval = time.Duration(f.SleepInterval * float64(time.Second))
	}
	if f.MaxUnchangedStats > 0 && !maxStatsSet {
		o.MaxUnchangedStats = f.MaxUnchangedStats
	}
	if f.DisableInotify {
		o.DisableInotify = true
	}
	if f.LogLevel != "" && o.LogLevel == "info" {
		o.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" && o.LogFormat == "console" {
		o.LogFormat = f.LogFormat
	}
}
