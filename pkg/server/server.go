package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/kvi-db/kvi/pkg/common/log"
	"github.com/kvi-db/kvi/pkg/hash"
	"github.com/kvi-db/kvi/pkg/shard"
	"github.com/kvi-db/kvi/pkg/telemetry"
)

// Config describes how to bind and run a Server.
type Config struct {
	IPs        []string
	Port       int
	ShardCount int
	Accepters  int
	Version    string

	// HasherSeed0 and HasherSeed1 pin the rendezvous hasher's seed pair.
	// Leaving both zero generates a fresh random seed at startup.
	HasherSeed0 uint64
	HasherSeed1 uint64
}

// Server owns the shard registry and one listener per configured IP, each
// served by Config.Accepters independent Accepter goroutines.
type Server struct {
	config    Config
	hasher    hash.Hasher
	shards    *shard.Shards
	listeners []net.Listener
	wg        sync.WaitGroup
	connWg    sync.WaitGroup
	logger    log.Logger
	tel       telemetry.Telemetry
}

// NewServer constructs the shard registry (one goroutine per shard) and the
// Hasher, seeded from Config.HasherSeed0/HasherSeed1 or with a fresh random
// pair when both are zero, but does not bind any sockets yet.
func NewServer(config Config, tel telemetry.Telemetry, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	if tel == nil {
		tel = telemetry.NewNoop()
	}

	seed := hash.New(config.HasherSeed0, config.HasherSeed1)
	if config.HasherSeed0 == 0 && config.HasherSeed1 == 0 {
		var err error
		seed, err = hash.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("failed to generate hasher seed: %w", err)
		}
	}

	shards := make([]*shard.Shard, config.ShardCount)
	for i := range shards {
		shards[i] = shard.New(i, tel, logger)
	}

	return &Server{
		config: config,
		hasher: seed,
		shards: shard.NewShards(shards, seed),
		logger: logger,
		tel:    tel,
	}, nil
}

// Start binds one listener per configured IP and launches Config.Accepters
// Accepter goroutines against each. It does not block.
func (s *Server) Start() error {
	for _, ip := range s.config.IPs {
		addr := net.JoinHostPort(ip, strconv.Itoa(s.config.Port))
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, listener)

		for i := 0; i < s.config.Accepters; i++ {
			accepter := NewAccepter(listener, s.hasher, s.shards, s.config.Version, s.tel, s.logger, &s.connWg)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				accepter.Run()
			}()
		}

		s.logger.Info("listening on %s with %d accepter(s)", addr, s.config.Accepters)
	}
	return nil
}

// Shutdown closes every listening socket, waits for all Accepter goroutines
// to observe the close and return, then gives in-flight connections until
// ctx is done to finish their current command and exit on their own before
// the shards are stopped out from under them.
func (s *Server) Shutdown(ctx context.Context) {
	for _, l := range s.listeners {
		l.Close()
	}
	s.wg.Wait()

	drained := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown grace period elapsed with connections still active")
	}

	s.shards.Stop()
}

// ShardCount returns the number of shards the server is running with, for
// diagnostics.
func (s *Server) ShardCount() int {
	return s.shards.Len()
}

// Addrs returns the bound address of every listener, in the order their IPs
// were configured. Useful after Start when Config.Port is 0 and the OS
// picked an ephemeral port.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.Addr()
	}
	return addrs
}
