package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*client, net.Conn) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		peer.Close()
	})
	return newClient(server), peer
}

func TestWriteArrayEncodesBulkStrings(t *testing.T) {
	c, peer := newTestClient(t)
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))
		peer.Read(buf)
		done <- buf
	}()
	require.NoError(t, c.writeArray("GET", "foo"))
	assert.Equal(t, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n", string(<-done))
}

func TestReadReplySimpleString(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte("+OK\r\n"))
	reply, err := c.readReply()
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}

func TestReadReplyErrorReturnsError(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte("-ERR boom\r\n"))
	_, err := c.readReply()
	require.Error(t, err)
	assert.Equal(t, "ERR boom", err.Error())
}

func TestReadReplyInteger(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte(":1\r\n"))
	reply, err := c.readReply()
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply)
}

func TestReadReplyBulkStringNil(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte("$-1\r\n"))
	reply, err := c.readReply()
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestReadReplyBulkString(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte("$3\r\nbar\r\n"))
	reply, err := c.readReply()
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), reply)
}

func TestReadReplyArrayOfBulkStrings(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte("*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))
	reply, err := c.readReply()
	require.NoError(t, err)
	items := reply.([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, []byte("foo"), items[0])
	assert.Equal(t, []byte("bar"), items[1])
}

func TestReadReplyMapFlattensKeyValuePairs(t *testing.T) {
	c, peer := newTestClient(t)
	go peer.Write([]byte("%1\r\n$3\r\nkey\r\n$3\r\nval\r\n"))
	reply, err := c.readReply()
	require.NoError(t, err)
	items := reply.([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, []byte("key"), items[0])
	assert.Equal(t, []byte("val"), items[1])
}
