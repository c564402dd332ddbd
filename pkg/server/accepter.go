package server

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvi-db/kvi/pkg/common/log"
	"github.com/kvi-db/kvi/pkg/hash"
	"github.com/kvi-db/kvi/pkg/shard"
	"github.com/kvi-db/kvi/pkg/telemetry"
)

// acceptRetryMin and acceptRetryMax bound the backoff applied between
// Accept() retries after a non-ErrClosed error, mirroring net/http.Server's
// own accept-loop backoff so a transient condition (e.g. EMFILE) doesn't
// spin the loop at full CPU and flood the log.
const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Accepter owns one listening socket and spawns a Connection for each
// accepted client. Several Accepters may share the same listener (cloned
// across OS threads in the reference model, a goroutine here); the OS
// serializes handoff between them.
type Accepter struct {
	listener net.Listener
	hasher   hash.Hasher
	shards   *shard.Shards
	version  string
	tel      telemetry.Telemetry
	logger   log.Logger
	connWg   *sync.WaitGroup
}

// connCounter assigns each accepted connection a process-unique conn_id for
// log correlation, shared across every Accepter in the process.
var connCounter atomic.Uint64

// NewAccepter builds an Accepter over an already-bound listener. connWg, if
// non-nil, is incremented for every accepted connection and decremented
// when Connection.Serve returns, letting Server.Shutdown wait for in-flight
// connections to drain.
func NewAccepter(listener net.Listener, hasher hash.Hasher, shards *shard.Shards, version string, tel telemetry.Telemetry, logger log.Logger, connWg *sync.WaitGroup) *Accepter {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Accepter{
		listener: listener,
		hasher:   hasher,
		shards:   shards,
		version:  version,
		tel:      tel,
		logger:   logger,
		connWg:   connWg,
	}
}

// Run accepts connections until the listener is closed, spawning a
// Connection goroutine per socket. Closing the listener (on shutdown) makes
// Accept fail with a wrapped net.ErrClosed, which Run treats as a normal
// terminate rather than an error.
func (a *Accepter) Run() {
	var retryDelay time.Duration
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if retryDelay == 0 {
				retryDelay = acceptRetryMin
			} else {
				retryDelay *= 2
			}
			if retryDelay > acceptRetryMax {
				retryDelay = acceptRetryMax
			}
			a.logger.Warn("accept error: %v; retrying in %s", err, retryDelay)
			time.Sleep(retryDelay)
			continue
		}
		retryDelay = 0
		connID := connCounter.Add(1)
		c := NewConnection(conn, a.hasher, a.shards, a.version, a.tel, a.logger, connID)
		if a.connWg != nil {
			a.connWg.Add(1)
		}
		go func() {
			if a.connWg != nil {
				defer a.connWg.Done()
			}
			c.Serve()
		}()
	}
}
