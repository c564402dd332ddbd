// Package shard implements the per-shard execution task: one goroutine
// owning one store.Map and one store.Allocator, processing exactly one
// command at a time. Connections hand it a key and a resp.Stream and block
// until the shard has written its reply and returned control.
package shard

import (
	"context"
	"errors"
	"time"

	"github.com/kvi-db/kvi/pkg/common/log"
	"github.com/kvi-db/kvi/pkg/resp"
	"github.com/kvi-db/kvi/pkg/store"
	"github.com/kvi-db/kvi/pkg/telemetry"
)

// ErrStopped is returned by Set/Get/Delete/Keys when the shard's goroutine
// has already been stopped (or is stopped while the request is still
// waiting to be picked up), so a caller blocked on a channel send never
// hangs past Stop being called.
var ErrStopped = errors.New("shard: stopped")

type opKind int

const (
	opSet opKind = iota
	opGet
	opDelete
)

// opRequest is one SET/GET/DEL command handed to the shard's goroutine.
// The stream is owned exclusively by the shard until it sends done: the
// sender blocks for the duration of the command, which is what keeps a
// single connection's commands strictly ordered.
type opRequest struct {
	kind   opKind
	key    store.Key
	stream *resp.Stream
	done   chan error
}

// keysRequest asks the shard to snapshot its own live key names.
type keysRequest struct {
	done chan keysResult
}

type keysResult struct {
	names [][]byte
	err   error
}

// Shard owns one Map and one Allocator and services every command routed
// to it by the Shards registry, one at a time, on its own goroutine.
type Shard struct {
	Index     int
	entries   *store.Map
	allocator *store.Allocator
	ops       chan *opRequest
	keysReqs  chan *keysRequest
	stop      chan struct{}
	stopped   chan struct{}
	metrics   Metrics
	logger    log.Logger
}

// New constructs a Shard and starts its goroutine. tel and logger may be
// nil, defaulting to disabled telemetry and the package default logger.
func New(index int, tel telemetry.Telemetry, logger log.Logger) *Shard {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	s := &Shard{
		Index:     index,
		entries:   store.NewMap(),
		allocator: store.NewAllocator(store.NewMetrics(tel)),
		ops:       make(chan *opRequest),
		keysReqs:  make(chan *keysRequest),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		metrics:   NewMetrics(tel),
		logger:    logger.WithField("shard_index", index),
	}
	go s.run()
	return s
}

// Stop terminates the shard's goroutine and blocks until it has actually
// exited, so that by the time Stop returns, Set/Get/Delete/Keys calls
// racing it are guaranteed to observe ErrStopped rather than landing on a
// run loop that happens not to have noticed the close yet.
func (s *Shard) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Shard) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.ops:
			req.done <- s.handleOp(req)
		case req := <-s.keysReqs:
			names, err := s.collectKeys()
			req.done <- keysResult{names: names, err: err}
		case <-s.stop:
			return
		}
	}
}

func (s *Shard) handleOp(req *opRequest) error {
	start := time.Now()
	var err error
	switch req.kind {
	case opSet:
		err = s.handleSet(req)
	case opGet:
		err = s.handleGet(req)
	case opDelete:
		err = s.handleDelete(req)
	}
	if err == nil {
		err = req.stream.Flush()
	}
	s.metrics.RecordOperation(context.Background(), opName(req.kind), time.Since(start), err == nil)
	return err
}

func (s *Shard) handleSet(req *opRequest) error {
	old, existed := s.entries.Get(req.key)

	v, err := req.stream.ReadBulkStringValue(s.allocator.Allocate)
	if err != nil {
		return err
	}

	s.entries.Set(req.key, v)
	if existed {
		s.allocator.Release(old)
	}
	s.maybeDefragment()

	return req.stream.WriteOK()
}

func (s *Shard) handleGet(req *opRequest) error {
	v, ok := s.entries.Get(req.key)
	if !ok {
		return req.stream.WriteNil()
	}
	return req.stream.WriteBulkString(v.Bytes())
}

func (s *Shard) handleDelete(req *opRequest) error {
	v, ok := s.entries.Get(req.key)
	if !ok {
		return req.stream.WriteInt(0)
	}

	s.entries.Remove(req.key)
	s.allocator.Release(v)
	s.maybeDefragment()

	return req.stream.WriteInt(1)
}

func (s *Shard) maybeDefragment() {
	if !s.allocator.ShouldDefragment() {
		return
	}
	s.allocator.Defragment(s.entries)
	s.logger.Debug("ran inline defragmentation")
}

func (s *Shard) collectKeys() ([][]byte, error) {
	names := make([][]byte, 0, s.entries.Len())
	it := s.entries.Keys()
	for it.Next() {
		name := it.Name()
		cloned := make([]byte, len(name))
		copy(cloned, name)
		names = append(names, cloned)
	}
	return names, nil
}

// Set executes a SET command on this shard's goroutine, reading the value
// through stream and writing the reply.
func (s *Shard) Set(key store.Key, stream *resp.Stream) error {
	return s.do(opSet, key, stream)
}

// Get executes a GET command, writing the value or a nil reply.
func (s *Shard) Get(key store.Key, stream *resp.Stream) error {
	return s.do(opGet, key, stream)
}

// Delete executes a DEL command, writing the existence reply.
func (s *Shard) Delete(key store.Key, stream *resp.Stream) error {
	return s.do(opDelete, key, stream)
}

func (s *Shard) do(kind opKind, key store.Key, stream *resp.Stream) error {
	req := &opRequest{kind: kind, key: key, stream: stream, done: make(chan error, 1)}
	select {
	case s.ops <- req:
	case <-s.stop:
		return ErrStopped
	}
	select {
	case err := <-req.done:
		return err
	case <-s.stop:
		return ErrStopped
	}
}

// Keys returns a snapshot of this shard's live key names, cloned so the
// caller can hold onto them past any later mutation of the shard's Map.
func (s *Shard) Keys() ([][]byte, error) {
	req := &keysRequest{done: make(chan keysResult, 1)}
	select {
	case s.keysReqs <- req:
	case <-s.stop:
		return nil, ErrStopped
	}
	select {
	case res := <-req.done:
		return res.names, res.err
	case <-s.stop:
		return nil, ErrStopped
	}
}

func opName(k opKind) string {
	switch k {
	case opSet:
		return telemetry.OpTypeSet
	case opGet:
		return telemetry.OpTypeGet
	case opDelete:
		return telemetry.OpTypeDelete
	default:
		return "unknown"
	}
}
