// Package config builds the immutable configuration of init.
//
// Settings are layered: built-in defaults, then SINIT_* environment
// variables, then command line flags applied by the caller. Build validates
// the result and derives the three commands init runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/SanjoDeundiak/sinit/pkg/lib"
)

const (
	DefaultRCInit     = "/bin/rc.init"
	DefaultRCShutdown = "/bin/rc.shutdown"
	DefaultWorkDir    = "/"

	// DevScriptDir holds the scripts used when init is tried out from a
	// source checkout instead of a real root filesystem.
	DevScriptDir = "debug_init_scripts"

	// DefaultReapInterval matches the alarm sinit re-arms to reap children
	// it may have missed.
	DefaultReapInterval = 30 * time.Second
)

// Arguments the shutdown script receives.
const (
	ArgPoweroff = "poweroff"
	ArgReboot   = "reboot"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvRCInit       = "SINIT_RC_INIT"
	EnvRCShutdown   = "SINIT_RC_SHUTDOWN"
	EnvWorkDir      = "SINIT_WORKDIR"
	EnvReapInterval = "SINIT_REAP_INTERVAL"
	EnvDebug        = "SINIT_DEBUG"
)

// Config is constructed once before the supervision loop starts and is
// read-only afterwards.
type Config struct {
	Startup  lib.Command
	Shutdown lib.Command
	Reboot   lib.Command

	// WorkDir is where children start; empty keeps init's directory.
	WorkDir string
	// ReapInterval triggers a reap even without SIGCHLD; zero disables it.
	// Without it, a SIGCHLD dropped because the signal queue was full is only
	// made up for by the next SIGCHLD.
	ReapInterval time.Duration
	Debug        bool
}

// Settings are the raw, not yet validated inputs of a Config.
type Settings struct {
	RCInit       string
	RCShutdown   string
	WorkDir      string
	ReapInterval time.Duration
	Debug        bool
}

// Defaults returns the built-in settings. dev selects the scripts in
// DevScriptDir and keeps the current directory for children.
func Defaults(dev bool) Settings {
	if dev {
		return Settings{
			RCInit:       filepath.Join(DevScriptDir, "rc.init"),
			RCShutdown:   filepath.Join(DevScriptDir, "rc.shutdown"),
			ReapInterval: DefaultReapInterval,
			Debug:        true,
		}
	}
	return Settings{
		RCInit:       DefaultRCInit,
		RCShutdown:   DefaultRCShutdown,
		WorkDir:      DefaultWorkDir,
		ReapInterval: DefaultReapInterval,
	}
}

// ApplyEnv overrides s with every SINIT_* variable that is set and not blank.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvRCInit); ok {
		s.RCInit = v
	}
	if v, ok := get(EnvRCShutdown); ok {
		s.RCShutdown = v
	}
	if v, ok := get(EnvWorkDir); ok {
		s.WorkDir = v
	}
	if v, ok := get(EnvReapInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvReapInterval, v, err)
		}
		s.ReapInterval = d
	}
	if v, ok := get(EnvDebug); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvDebug, v, err)
		}
		s.Debug = b
	}
	return nil
}

// Build validates s and returns the configuration.
func (s Settings) Build() (*Config, error) {
	rcInit, err := scriptPath("startup script", s.RCInit)
	if err != nil {
		return nil, err
	}
	rcShutdown, err := scriptPath("shutdown script", s.RCShutdown)
	if err != nil {
		return nil, err
	}
	if s.ReapInterval < 0 {
		return nil, fmt.Errorf("reap interval must not be negative, got %v", s.ReapInterval)
	}

	return &Config{
		Startup:      lib.Command{Path: rcInit},
		Shutdown:     lib.Command{Path: rcShutdown, Args: []string{ArgPoweroff}},
		Reboot:       lib.Command{Path: rcShutdown, Args: []string{ArgReboot}},
		WorkDir:      strings.TrimSpace(s.WorkDir),
		ReapInterval: s.ReapInterval,
		Debug:        s.Debug,
	}, nil
}

// Override adjusts settings after the environment has been applied.
type Override func(*Settings)

// Load builds a Config from the defaults, the environment seen through lookup
// and then overrides, in that order. A nil lookup reads the process
// environment.
func Load(dev bool, lookup func(string) (string, bool), overrides ...Override) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	s := Defaults(dev)
	if err := s.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(&s)
	}
	return s.Build()
}

// scriptPath anchors relative paths that name a directory, because children
// change into WorkDir before exec. Bare names are left for PATH lookup.
func scriptPath(what, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New(what + " path is required")
	}
	if strings.Contains(path, "/") && !filepath.IsAbs(path) {
		return filepath.Abs(path)
	}
	return path, nil
}
