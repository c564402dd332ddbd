package shard

import (
	"io"
	"net"
	"testing"

	"github.com/kvi-db/kvi/pkg/resp"
	"github.com/kvi-db/kvi/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clientExchange writes req on the client side of a pipe and reads exactly
// len(wantReply) bytes back, returning what it read. Used because a Shard
// both reads a value and writes a reply through the same Stream within one
// call, so the test's peer must be pumping both directions concurrently.
func clientExchange(t *testing.T, client net.Conn, req string, replyLen int) []byte {
	t.Helper()
	done := make(chan []byte, 1)
	go func() {
		if req != "" {
			client.Write([]byte(req))
		}
		buf := make([]byte, replyLen)
		io.ReadFull(client, buf)
		done <- buf
	}()
	return <-done
}

func TestShardSetGetDelete(t *testing.T) {
	sh := New(0, nil, nil)
	defer sh.Stop()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	stream := resp.NewStream(server)
	key := store.Key{Name: []byte("foo"), Hash: 42}

	replyCh := make(chan []byte, 1)
	go func() {
		client.Write([]byte("$3\r\nbar\r\n"))
		buf := make([]byte, 5)
		io.ReadFull(client, buf)
		replyCh <- buf
	}()
	require.NoError(t, sh.Set(key, stream))
	assert.Equal(t, []byte("+OK\r\n"), <-replyCh)

	go func() {
		buf := make([]byte, 9)
		io.ReadFull(client, buf)
		replyCh <- buf
	}()
	require.NoError(t, sh.Get(key, stream))
	assert.Equal(t, []byte("$3\r\nbar\r\n"), <-replyCh)

	go func() {
		buf := make([]byte, 4)
		io.ReadFull(client, buf)
		replyCh <- buf
	}()
	require.NoError(t, sh.Delete(key, stream))
	assert.Equal(t, []byte(":1\r\n"), <-replyCh)

	go func() {
		buf := make([]byte, 5)
		io.ReadFull(client, buf)
		replyCh <- buf
	}()
	require.NoError(t, sh.Get(key, stream))
	assert.Equal(t, []byte("$-1\r\n"), <-replyCh)
}

func TestShardDeleteAbsentKeyReturnsZero(t *testing.T) {
	sh := New(0, nil, nil)
	defer sh.Stop()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	stream := resp.NewStream(server)

	replyCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		io.ReadFull(client, buf)
		replyCh <- buf
	}()
	require.NoError(t, sh.Delete(store.Key{Name: []byte("missing"), Hash: 1}, stream))
	assert.Equal(t, []byte(":0\r\n"), <-replyCh)
}

func TestShardKeysSnapshotsLiveEntries(t *testing.T) {
	sh := New(0, nil, nil)
	defer sh.Stop()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	stream := resp.NewStream(server)

	set := func(name, value string) {
		replyCh := make(chan []byte, 1)
		go func() {
			client.Write([]byte("$" + itoaShardTest(len(value)) + "\r\n" + value + "\r\n"))
			buf := make([]byte, 5)
			io.ReadFull(client, buf)
			replyCh <- buf
		}()
		key := store.Key{Name: []byte(name), Hash: int64(len(name))}
		require.NoError(t, sh.Set(key, stream))
		<-replyCh
	}

	set("a", "1")
	set("b", "2")
	set("c", "3")

	names, err := sh.Keys()
	require.NoError(t, err)
	got := map[string]bool{}
	for _, n := range names {
		got[string(n)] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, got)
}

func TestShardKeysAfterStopReturnsErrStopped(t *testing.T) {
	sh := New(0, nil, nil)
	sh.Stop()

	_, err := sh.Keys()
	assert.ErrorIs(t, err, ErrStopped)
}

func TestShardSetAfterStopReturnsErrStopped(t *testing.T) {
	sh := New(0, nil, nil)
	sh.Stop()

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	stream := resp.NewStream(server)

	err := sh.Set(store.Key{Name: []byte("foo"), Hash: 1}, stream)
	assert.ErrorIs(t, err, ErrStopped)
}

func itoaShardTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
