// Package config is the engine's configuration surface: a viper-backed
// singleton reading an evolu.yaml (plus environment overrides) for the
// long-lived process, following the teacher's internal/config package
// split between a full viper singleton and a direct-YAML escape hatch
// (local_config.go) for reads that must work before viper is set up.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Key names match spec.md §6's enumerated Configuration keys verbatim.
const (
	KeyName            = "name"
	KeySyncURL         = "syncUrl"
	KeyMaxDrift        = "maxDrift"
	KeyDisposalDelayMs = "disposalDelayMs"
	KeyEnableLogging   = "enableLogging"
	KeyIndexes         = "indexes"
	KeyMinimumLogLevel = "minimumLogLevel"
	KeyReloadURL       = "reloadUrl"
)

// DefaultMaxDriftMs and DefaultDisposalDelayMs are spec.md §6's stated
// defaults for maxDrift and disposalDelayMs respectively.
const (
	DefaultMaxDriftMs      = 300_000
	DefaultDisposalDelayMs = 100
	DefaultMinimumLogLevel = "info"
	envPrefix              = "EVOLU"
)

// v is the package-level viper singleton, nil until Initialize succeeds.
// Every getter below is nil-safe and returns the zero value for v == nil,
// mirroring the teacher's own nil-safe accessor discipline.
var v *viper.Viper

// Initialize reads path (a YAML file) into the package singleton, applies
// environment variable overrides (EVOLU_<KEY>, case-insensitive, '.'/'-'
// replaced by '_'), and registers the spec's stated defaults. A missing
// file is not an error — an engine with no config file runs on defaults.
func Initialize(path string) error {
	nv := viper.New()
	nv.SetConfigType("yaml")
	if path != "" {
		nv.SetConfigFile(path)
	}
	nv.SetEnvPrefix(envPrefix)
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()

	registerDefaults(nv)

	if path != "" {
		if err := nv.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	v = nv
	return nil
}

// Reset clears the package singleton; tests use this for isolation.
func Reset() { v = nil }

func registerDefaults(nv *viper.Viper) {
	nv.SetDefault(KeyMaxDrift, DefaultMaxDriftMs)
	nv.SetDefault(KeyDisposalDelayMs, DefaultDisposalDelayMs)
	nv.SetDefault(KeyEnableLogging, false)
	nv.SetDefault(KeyMinimumLogLevel, DefaultMinimumLogLevel)
}

// Name returns the storage namespace / filename prefix.
func Name() string { return GetString(KeyName) }

// SyncURLs returns the default transport URL list.
func SyncURLs() []string { return GetStringSlice(KeySyncURL) }

// MaxDrift returns the maximum accepted clock drift.
func MaxDrift() time.Duration {
	ms := GetInt(KeyMaxDrift)
	if ms == 0 {
		ms = DefaultMaxDriftMs
	}
	return time.Duration(ms) * time.Millisecond
}

// DisposalDelay returns the owner/connection disposal grace period.
func DisposalDelay() time.Duration {
	ms := GetInt(KeyDisposalDelayMs)
	if ms == 0 {
		ms = DefaultDisposalDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// EnableLogging reports whether the host asked for engine logging.
func EnableLogging() bool { return GetBool(KeyEnableLogging) }

// MinimumLogLevel returns the configured slog level name, defaulting to
// "info" when unset.
func MinimumLogLevel() string {
	lvl := GetString(KeyMinimumLogLevel)
	if lvl == "" {
		return DefaultMinimumLogLevel
	}
	return lvl
}

// ReloadURL returns the host integration's reload-signal endpoint, if any.
func ReloadURL() string { return GetString(KeyReloadURL) }

// GetString, GetBool, GetInt, and GetStringSlice are nil-safe viper
// accessors: calling them before Initialize returns the zero value
// instead of panicking, so library code never needs a nil check of its
// own.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}
