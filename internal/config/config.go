// Package config loads entityledger's layered configuration: built-in
// defaults, a TOML file, environment variables, then CLI flags, in that
// precedence order (lowest to highest) — the same layering the teacher's
// own config loaders use, here built on viper rather than hand-rolled
// YAML line-editing since no single teacher file owns this concern end
// to end (see DESIGN.md).
//
// A narrow subset is safe to hot-reload while the daemon runs: poll and
// reconciler intervals, TTLs, and retry budgets. Protection flags, the
// schema version, and the allocator epoch are fixed at process boot and
// are never re-read from a reload.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Reloadable holds the subset of configuration that may change while the
// daemon is running. Everything else in Config is captured once at boot.
type Reloadable struct {
	PollInterval       time.Duration
	ReconcileInterval  time.Duration
	AbandonmentTTL     time.Duration
	WriteMaxRetries    int
	WriteIOTimeout     time.Duration
	ReconcileSweepSize int
	PollBatchSize      int
}

// Config is the fully resolved configuration for one entityledgerd
// process. Fields outside Reloadable are read once at startup and never
// change for the life of the process, even if the backing file changes.
type Config struct {
	Reloadable

	SchemaVersion  int
	AllocatorEpoch uint32

	MetastoreDSN     string
	MetastoreDialect string
	SnapstoreURI     string
	RedisAddr        string
	NATSURL          string

	ListenAddr string
}

func defaults() map[string]any {
	return map[string]any{
		"poll_interval":        "5m",
		"reconcile_interval":   "1m",
		"abandonment_ttl":      "10m",
		"write_max_retries":    8,
		"write_io_timeout":     "5s",
		"reconcile_sweep_size": 500,
		"poll_batch_size":      500,

		"schema_version":  1,
		"allocator_epoch": 1,

		"metastore_dsn":     "",
		"metastore_dialect": "postgres",
		"snapstore_uri":     "",
		"redis_addr":        "",
		"nats_url":          "",

		"listen_addr": ":8080",
	}
}

// Loader wraps a viper instance carrying the layered defaults -> file ->
// env precedence, plus an optional fsnotify watch for the reloadable
// subset — grounded on the teacher's internal/labelmutex/policy.go,
// which drives viper the same way (New, SetConfigFile, SetConfigType,
// ReadInConfig) to pull one key back out of a YAML file.
type Loader struct {
	v *viper.Viper

	mu       sync.RWMutex
	current  Config
	onChange []func(Reloadable)
}

// New builds a Loader, reading defaults, then an optional TOML file at
// path (skipped if empty or missing), then ENTITYLEDGER_-prefixed
// environment variables.
func New(path string) (*Loader, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("entityledger")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	l := &Loader{v: v}
	cfg, err := l.build()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// BindFlags overrides viper keys with values already parsed from the
// command line, the highest-precedence layer. Callers pass only the
// flags the user actually set.
func (l *Loader) BindFlags(flags map[string]any) error {
	for k, val := range flags {
		l.v.Set(k, val)
	}
	cfg, err := l.build()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return nil
}

// Current returns the most recently resolved configuration snapshot.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnReload registers a callback invoked with the new Reloadable subset
// whenever the watched file changes. It does not fire for the boot-time
// fields, which callers must not re-read.
func (l *Loader) OnReload(fn func(Reloadable)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts an fsnotify watch on the config file and applies changes
// to the Reloadable subset only; SchemaVersion, AllocatorEpoch, and
// every other boot-time field retain their original value even if the
// file on disk changes them.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := l.build()
		if err != nil {
			// Malformed reload leaves the running config untouched.
			return
		}
		l.mu.Lock()
		next := l.current
		next.Reloadable = cfg.Reloadable
		l.current = next
		callbacks := append([]func(Reloadable){}, l.onChange...)
		l.mu.Unlock()

		for _, cb := range callbacks {
			cb(next.Reloadable)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) build() (Config, error) {
	pollInterval, err := time.ParseDuration(l.v.GetString("poll_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("config: poll_interval: %w", err)
	}
	reconcileInterval, err := time.ParseDuration(l.v.GetString("reconcile_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("config: reconcile_interval: %w", err)
	}
	abandonmentTTL, err := time.ParseDuration(l.v.GetString("abandonment_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("config: abandonment_ttl: %w", err)
	}
	writeIOTimeout, err := time.ParseDuration(l.v.GetString("write_io_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("config: write_io_timeout: %w", err)
	}

	return Config{
		Reloadable: Reloadable{
			PollInterval:       pollInterval,
			ReconcileInterval:  reconcileInterval,
			AbandonmentTTL:     abandonmentTTL,
			WriteMaxRetries:    l.v.GetInt("write_max_retries"),
			WriteIOTimeout:     writeIOTimeout,
			ReconcileSweepSize: l.v.GetInt("reconcile_sweep_size"),
			PollBatchSize:      l.v.GetInt("poll_batch_size"),
		},
		SchemaVersion:    l.v.GetInt("schema_version"),
		AllocatorEpoch:   uint32(l.v.GetInt("allocator_epoch")),
		MetastoreDSN:     l.v.GetString("metastore_dsn"),
		MetastoreDialect: l.v.GetString("metastore_dialect"),
		SnapstoreURI:     l.v.GetString("snapstore_uri"),
		RedisAddr:        l.v.GetString("redis_addr"),
		NATSURL:          l.v.GetString("nats_url"),
		ListenAddr:       l.v.GetString("listen_addr"),
	}, nil
}
