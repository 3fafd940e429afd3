// Package config loads process-wide configuration the way the
// teacher's pkg/config/config does: a typed Config struct populated
// through viper, with a GetConfig() accessor and a UseTestConfig escape
// hatch for tests.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/justincampbell/bigduration"
	"github.com/spf13/viper"
)

// Config is the root configuration object for the acquisition core.
type Config struct {
	// StorageRoot is where local installs, install scripts, and the
	// persisted registry/graveyard live ({storageRoot}/{installId}/...).
	StorageRoot string

	// CacheTTLMultiplier scales every TTL the In-Memory Cache and Path
	// Finder command memoisation use (user knob).
	CacheTTLMultiplier float64

	// WebRequestTimeout is the configured bound for a single HTTP round
	// trip. No component reads it; callers of the Web Fetcher pass their
	// own per-call timeouts.
	WebRequestTimeout time.Duration
	// WebRequestRetries is the retry budget for transient failures.
	WebRequestRetries int

	// InstallScriptTimeout is the configured bound for running
	// dotnet-install.{ps1,sh} or a native installer binary — a separate,
	// larger timeout than the HTTP one. No component reads it; installers
	// use the per-request timeout they are called with.
	InstallScriptTimeout time.Duration

	// ModifierLockTimeout is the configured wait for the cross-process
	// lock. No component reads it; pkg/lock gives up after a fixed two
	// minutes per attempt.
	ModifierLockTimeout time.Duration

	// GraveyardSweepInterval is how often the background cron job
	// drains the graveyard.
	GraveyardSweepInterval time.Duration

	// RedisAddr, if non-empty, switches the persisted-state store to
	// the Redis-backed implementation instead of the default
	// file-backed one.
	RedisAddr string

	// DiagnosticsAddr is the loopback address the read-only
	// diagnostics HTTP server binds to; empty disables it.
	DiagnosticsAddr string
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		StorageRoot:            home + "/.dotnet-acquire",
		CacheTTLMultiplier:     1.0,
		WebRequestTimeout:      30 * time.Second,
		WebRequestRetries:      4,
		InstallScriptTimeout:   10 * time.Minute,
		ModifierLockTimeout:    2 * time.Minute,
		GraveyardSweepInterval: 5 * time.Minute,
		DiagnosticsAddr:        "127.0.0.1:9820",
	}
}

var (
	cfg      *Config
	cfgOnce  sync.Once
	cfgMu    sync.RWMutex
	loadErr  error
)

func load() *Config {
	c := defaults()

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DOTNET_ACQUIRE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if sr := v.GetString("storage_root"); sr != "" {
		c.StorageRoot = sr
	}
	if raw := os.Getenv("DOTNET_ACQUIRE_WEB_REQUEST_TIMEOUT"); raw != "" {
		if d, err := bigduration.ParseDuration(raw); err == nil {
			c.WebRequestTimeout = d
		}
	}
	if raw := os.Getenv("DOTNET_ACQUIRE_INSTALL_SCRIPT_TIMEOUT"); raw != "" {
		if d, err := bigduration.ParseDuration(raw); err == nil {
			c.InstallScriptTimeout = d
		}
	}
	if addr := v.GetString("redis_addr"); addr != "" {
		c.RedisAddr = addr
	}
	if addr := v.GetString("diagnostics_addr"); addr != "" {
		c.DiagnosticsAddr = addr
	}
	return c
}

// GetConfig returns the process-wide configuration, loading it lazily
// on first call.
func GetConfig() *Config {
	cfgOnce.Do(func() {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		cfg = load()
	})
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// UseTestConfig installs an explicit Config for the duration of a test,
// bypassing environment/file discovery entirely.
func UseTestConfig(c *Config) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	cfg = c
	cfgOnce.Do(func() {}) // ensure Do never re-fires and clobbers c later
}

// LoadErr reports any non-fatal error encountered while loading
// configuration (currently always nil; reserved for file-based
// config parsing failures once a config file format is finalised).
func LoadErr() error { return loadErr }
