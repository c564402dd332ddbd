// Command kvi runs the in-memory, sharded kvi key-value server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kvi-db/kvi/pkg/common/log"
	"github.com/kvi-db/kvi/pkg/config"
	"github.com/kvi-db/kvi/pkg/server"
	"github.com/kvi-db/kvi/pkg/telemetry"
)

// version is the string reported in a HELLO handshake response.
const version = "0.1.0"

// shutdownGrace bounds how long Shutdown waits for in-flight connections
// to finish their current command before the shard goroutines are stopped.
const shutdownGrace = 5 * time.Second

// ipList collects repeated -ip flag occurrences.
type ipList []string

func (l *ipList) String() string {
	return strings.Join(*l, ",")
}

func (l *ipList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaults := config.NewDefaultConfig()

	var ips ipList
	flag.Var(&ips, "ip", "IP address to listen on (repeatable, default 0.0.0.0)")
	port := flag.Int("port", defaults.Port, "TCP port to listen on")
	shards := flag.Int("shards", defaults.NumShards, "number of shard goroutines")
	accepters := flag.Int("accepters", defaults.NumAccepters, "number of accepter goroutines per listening socket")
	logLevel := flag.String("log", defaults.LogLevel.String(), "log level: debug|info|warn|error|none")
	seed0 := flag.Uint64("seed0", 0, "first half of the hasher seed pair (0 = generate randomly); for reproducible test runs")
	seed1 := flag.Uint64("seed1", 0, "second half of the hasher seed pair (0 = generate randomly); for reproducible test runs")
	showVersion := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "kvi - an in-memory, sharded key-value server\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: kvi [options]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("kvi version", version)
		return nil
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return err
	}

	cfg := config.NewDefaultConfig()
	if len(ips) > 0 {
		cfg.ListenAddrs = ips
	}
	cfg.Port = *port
	cfg.NumShards = *shards
	cfg.NumAccepters = *accepters
	cfg.LogLevel = level
	cfg.HasherSeed0 = *seed0
	cfg.HasherSeed1 = *seed1

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.NewStandardLogger(log.WithLevel(cfg.LogLevel))
	log.SetDefaultLogger(logger)

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	srv, err := server.NewServer(server.Config{
		IPs:         cfg.ListenAddrs,
		Port:        cfg.Port,
		ShardCount:  cfg.NumShards,
		Accepters:   cfg.NumAccepters,
		Version:     version,
		HasherSeed0: cfg.HasherSeed0,
		HasherSeed1: cfg.HasherSeed1,
	}, tel, logger)
	if err != nil {
		return fmt.Errorf("failed to construct server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("kvi server started with %d shard(s)", srv.ShardCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
	return nil
}
