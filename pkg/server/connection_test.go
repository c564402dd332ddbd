package server

import (
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/kvi-db/kvi/pkg/hash"
	"github.com/kvi-db/kvi/pkg/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, shardCount int) (net.Conn, *shard.Shards) {
	t.Helper()
	h := hash.New(11, 22)
	shards := make([]*shard.Shard, shardCount)
	for i := range shards {
		shards[i] = shard.New(i, nil, nil)
	}
	registry := shard.NewShards(shards, h)
	t.Cleanup(registry.Stop)

	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	conn := NewConnection(server, h, registry, "0.1.0-test", nil, nil, 1)
	go conn.Serve()

	return client, registry
}

func TestHandshakeOK(t *testing.T) {
	client, _ := newTestConnection(t, 2)

	client.Write([]byte("*1\r\n$5\r\nHELLO\r\n$1\r\n3\r\n"))

	want := "%3\r\n$6\r\nserver\r\n$3\r\nkvi\r\n$7\r\nversion\r\n$10\r\n0.1.0-test\r\n$5\r\nproto\r\n:3\r\n"
	buf := make([]byte, len(want))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))

	// connection remains open: a further command still gets serviced.
	client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\na\r\n"))
	buf = make([]byte, 5)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "$-1\r\n", string(buf))
}

func TestHandshakeBadVersionClosesConnection(t *testing.T) {
	client, _ := newTestConnection(t, 2)

	client.Write([]byte("*1\r\n$5\r\nHELLO\r\n$1\r\n2\r\n"))

	want := "-ERR unsupported protocol version '2'\r\n"
	buf := make([]byte, len(want))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))

	n, err := client.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}

func TestSetThenGet(t *testing.T) {
	client, _ := newTestConnection(t, 2)

	client.Write([]byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))

	want := "+OK\r\n$3\r\nbar\r\n"
	buf := make([]byte, len(want))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestGetAbsent(t *testing.T) {
	client, _ := newTestConnection(t, 2)

	client.Write([]byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))

	buf := make([]byte, 5)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "$-1\r\n", string(buf))
}

func TestDeleteExisting(t *testing.T) {
	client, _ := newTestConnection(t, 2)

	client.Write([]byte(
		"*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n" +
			"*2\r\n$3\r\nDEL\r\n$1\r\na\r\n" +
			"*2\r\n$3\r\nGET\r\n$1\r\na\r\n",
	))

	want := "+OK\r\n:1\r\n$-1\r\n"
	buf := make([]byte, len(want))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestKeysOverFourDistinctKeys(t *testing.T) {
	client, _ := newTestConnection(t, 4)

	client.Write([]byte(
		"*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$1\r\n1\r\n" +
			"*3\r\n$3\r\nSET\r\n$3\r\nbar\r\n$1\r\n2\r\n" +
			"*3\r\n$3\r\nSET\r\n$3\r\nbaz\r\n$1\r\n3\r\n" +
			"*3\r\n$3\r\nSET\r\n$4\r\nquix\r\n$1\r\n4\r\n",
	))
	buf := make([]byte, len("+OK\r\n")*4)
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)

	client.Write([]byte("*1\r\n$4\r\nKEYS\r\n"))

	header := make([]byte, 4)
	_, err = io.ReadFull(client, header)
	require.NoError(t, err)
	assert.Equal(t, "*4\r\n", string(header))

	got := map[string]bool{}
	for i := 0; i < 4; i++ {
		lenPrefix := make([]byte, 1)
		_, err := io.ReadFull(client, lenPrefix)
		require.NoError(t, err)
		require.Equal(t, "$", string(lenPrefix))

		lenLine := readLineHelper(t, client)
		n, err := strconv.Atoi(lenLine)
		require.NoError(t, err)

		payload := make([]byte, n+2)
		_, err = io.ReadFull(client, payload)
		require.NoError(t, err)
		got[string(payload[:n])] = true
	}
	assert.Equal(t, map[string]bool{"foo": true, "bar": true, "baz": true, "quix": true}, got)
}

func TestUnknownCommandThenHandshakeOnSameConnection(t *testing.T) {
	client, _ := newTestConnection(t, 2)

	client.Write([]byte("*1\r\n$3\r\nFOO\r\n"))
	want := "-ERR the command FOO is invalid\r\n"
	buf := make([]byte, len(want))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))

	client.Write([]byte("*1\r\n$5\r\nHELLO\r\n$1\r\n3\r\n"))
	want2 := "%3\r\n$6\r\nserver\r\n$3\r\nkvi\r\n$7\r\nversion\r\n$10\r\n0.1.0-test\r\n$5\r\nproto\r\n:3\r\n"
	buf2 := make([]byte, len(want2))
	_, err = io.ReadFull(client, buf2)
	require.NoError(t, err)
	assert.Equal(t, want2, string(buf2))
}

func readLineHelper(t *testing.T, conn net.Conn) string {
	t.Helper()
	var line []byte
	b := make([]byte, 1)
	for {
		_, err := io.ReadFull(conn, b)
		require.NoError(t, err)
		if b[0] == '\r' {
			_, err := io.ReadFull(conn, b)
			require.NoError(t, err)
			require.Equal(t, byte('\n'), b[0])
			break
		}
		line = append(line, b[0])
	}
	return string(line)
}
