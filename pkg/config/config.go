// Package config holds the validated runtime configuration for a kvi
// server: listen addresses, shard count, accepter count, log level, and
// the hasher seed. There is no on-disk manifest — kvi keeps no persisted
// state (see Non-goals) — so, unlike the teacher's manifest-backed config,
// this Config is built once from CLI flags and never round-tripped through
// a file.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/kvi-db/kvi/pkg/common/log"
)

// ErrInvalidConfig wraps every validation failure so callers can match on
// it with errors.Is regardless of which field was rejected.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPort is the listen port used when --port is not given.
const DefaultPort = 20252

// DefaultAccepters is the number of accepter goroutines per listen address
// used when --accepters is not given.
const DefaultAccepters = 1

// Config is the fully-resolved configuration for one kvi server process.
type Config struct {
	// ListenAddrs are the IP addresses to bind, one listener per address
	// (plus NumAccepters goroutines sharing each listener's accept loop).
	ListenAddrs []string

	// Port is the TCP port shared by every listen address.
	Port int

	// NumShards is the number of independent Shard goroutines. Each shard
	// owns one Map and one Allocator; keys are routed to shards by
	// rendezvous hashing (pkg/shard) and never move between shards.
	NumShards int

	// NumAccepters is the number of goroutines calling Accept() on each
	// listener. More than one lets the OS fan incoming connections out
	// across goroutines instead of serializing accept() on a single one.
	NumAccepters int

	// LogLevel is the minimum severity that reaches the log writer.
	LogLevel log.Level

	// HasherSeed0 and HasherSeed1 seed the keyed hash used for both key
	// hashing and shard selection. Zero means "generate randomly at
	// startup"; tests pin both to get reproducible shard assignment.
	HasherSeed0 uint64
	HasherSeed1 uint64

	mu sync.RWMutex
}

// NewDefaultConfig returns a Config with every field at its documented
// default, sized for the current machine (NumShards = runtime.NumCPU()).
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddrs:  []string{"0.0.0.0"},
		Port:         DefaultPort,
		NumShards:    runtime.NumCPU(),
		NumAccepters: DefaultAccepters,
		LogLevel:     log.LevelInfo,
	}
}

// Validate checks that every field holds a usable value. All numeric
// fields governed by the CLI must be strictly positive, per spec.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.ListenAddrs) == 0 {
		return fmt.Errorf("%w: at least one --ip address is required", ErrInvalidConfig)
	}
	for _, addr := range c.ListenAddrs {
		if addr == "" {
			return fmt.Errorf("%w: --ip address must not be empty", ErrInvalidConfig)
		}
	}

	if c.Port <= 0 {
		return fmt.Errorf("%w: --port must be positive, got %d", ErrInvalidConfig, c.Port)
	}

	if c.NumShards <= 0 {
		return fmt.Errorf("%w: --shards must be positive, got %d", ErrInvalidConfig, c.NumShards)
	}

	if c.NumAccepters <= 0 {
		return fmt.Errorf("%w: --accepters must be positive, got %d", ErrInvalidConfig, c.NumAccepters)
	}

	return nil
}

// Update applies fn to the configuration under the write lock. Used by
// tests that need to mutate a shared Config without racing a reader.
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
