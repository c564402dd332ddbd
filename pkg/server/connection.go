// Package server implements the Accepter and Connection tasks: one
// goroutine per accepted TCP socket, parsing pipelined RESP3 commands and
// routing each one to the shard registry.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kvi-db/kvi/pkg/common/log"
	"github.com/kvi-db/kvi/pkg/hash"
	"github.com/kvi-db/kvi/pkg/resp"
	"github.com/kvi-db/kvi/pkg/shard"
	"github.com/kvi-db/kvi/pkg/telemetry"
)

// Connection owns one TCP socket's RESP3 pipeline for its entire lifetime.
// It parses a command, hands the stream to a shard (or answers directly
// for HELLO/KEYS), then loops for the next command. Only one command is
// ever in flight on a connection at a time.
type Connection struct {
	stream  *resp.Stream
	hasher  hash.Hasher
	shards  *shard.Shards
	version string
	metrics Metrics
	logger  log.Logger
}

// NewConnection wraps conn for command processing. tel and logger may be
// nil, defaulting to disabled telemetry and the package default logger.
// connID is a process-unique identifier attached to every log line this
// connection emits, so its whole lifetime can be grepped out of a busy
// server's logs.
func NewConnection(conn net.Conn, hasher hash.Hasher, shards *shard.Shards, version string, tel telemetry.Telemetry, logger log.Logger, connID uint64) *Connection {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Connection{
		stream:  resp.NewStream(conn),
		hasher:  hasher,
		shards:  shards,
		version: version,
		metrics: NewMetrics(tel),
		logger: logger.WithFields(map[string]interface{}{
			"conn_id":     connID,
			"remote_addr": conn.RemoteAddr().String(),
		}),
	}
}

// Serve runs the connection's read-dispatch-reply loop until a Hard or
// Closed/ReadWrite error ends it. It never returns an error: every outcome
// is either logged or silent per the protocol's error disposition table.
func (c *Connection) Serve() {
	start := time.Now()
	ctx := context.Background()
	c.metrics.RecordConnectionOpened(ctx)

	errorType := ""
	for {
		cmd, err := c.stream.ReadPipelineCommand()
		if err != nil {
			terminate, kind := c.reportError(err)
			if terminate {
				errorType = kind
				break
			}
			continue
		}

		c.metrics.RecordPipelineCommand(ctx, cmd.String())

		if err := c.dispatch(cmd); err != nil {
			terminate, kind := c.reportError(err)
			if terminate {
				errorType = kind
				break
			}
		}
	}

	c.stream.Close()
	c.metrics.RecordConnectionClosed(ctx, time.Since(start), errorType)
}

func (c *Connection) dispatch(cmd resp.Command) error {
	switch cmd {
	case resp.CommandHello:
		return c.handleHello()
	case resp.CommandGet:
		return c.handleGet()
	case resp.CommandSet:
		return c.handleSet()
	case resp.CommandDel:
		return c.handleDelete()
	case resp.CommandKeys:
		return c.handleKeys()
	default:
		// ReadPipelineCommand already rejects CommandUnknown as a Soft
		// error before dispatch is called; this guards only against a
		// future Command value added to the parser without a case here.
		return resp.Hard("the syntax is invalid")
	}
}

func (c *Connection) handleHello() error {
	version, err := c.stream.ReadPipelineString()
	if err != nil {
		return err
	}
	if version != "3" {
		return resp.Hard("unsupported protocol version '%s'", version)
	}
	if err := c.stream.WriteHelloResponse(c.version); err != nil {
		return err
	}
	return c.stream.Flush()
}

func (c *Connection) handleGet() error {
	key, err := c.stream.ReadKey(c.hasher)
	if err != nil {
		return err
	}
	sh := c.shards.Select(key.Hash)
	if err := sh.Get(key, c.stream); err != nil {
		return err
	}
	return c.stream.Flush()
}

func (c *Connection) handleSet() error {
	key, err := c.stream.ReadKey(c.hasher)
	if err != nil {
		return err
	}
	sh := c.shards.Select(key.Hash)
	if err := sh.Set(key, c.stream); err != nil {
		return err
	}
	return c.stream.Flush()
}

func (c *Connection) handleDelete() error {
	key, err := c.stream.ReadKey(c.hasher)
	if err != nil {
		return err
	}
	sh := c.shards.Select(key.Hash)
	if err := sh.Delete(key, c.stream); err != nil {
		return err
	}
	return c.stream.Flush()
}

// handleKeys fans the snapshot request out to every shard concurrently and
// serializes the union as one array of bulk strings. Each shard
// independently snapshots its own keys when it services the request; there
// is no cross-shard atomicity.
func (c *Connection) handleKeys() error {
	all := c.shards.All()
	results := make([][][]byte, len(all))
	errs := make([]error, len(all))

	var wg sync.WaitGroup
	wg.Add(len(all))
	for i, sh := range all {
		go func(i int, sh *shard.Shard) {
			defer wg.Done()
			results[i], errs[i] = sh.Keys()
		}(i, sh)
	}
	wg.Wait()

	var total int
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	for _, r := range results {
		total += len(r)
	}
	names := make([][]byte, 0, total)
	for _, r := range results {
		names = append(names, r...)
	}

	if err := c.stream.WriteArrayHeader(len(names)); err != nil {
		return err
	}
	for _, name := range names {
		if err := c.stream.WriteBulkString(name); err != nil {
			return err
		}
	}
	return c.stream.Flush()
}

// reportError dispatches err per the codec's error disposition table. It
// returns whether the connection should terminate and, if so, a short
// label for the metrics/log call.
func (c *Connection) reportError(err error) (terminate bool, errorType string) {
	switch {
	case resp.IsHard(err):
		c.writeErrorReply(err)
		return true, "hard"
	case resp.IsSoft(err):
		c.writeErrorReply(err)
		if skipErr := c.stream.SkipRemainingStrings(); skipErr != nil {
			return true, "soft_skip_failed"
		}
		return false, ""
	case resp.IsClosed(err):
		return true, "closed"
	default:
		c.logger.Debug("connection read/write error: %v", err)
		return true, "read_write"
	}
}

func (c *Connection) writeErrorReply(err error) {
	if writeErr := c.stream.WriteError(err.Error()); writeErr != nil {
		return
	}
	c.stream.Flush()
}
