package resp

import (
	"bufio"
	"io"
	"net"
	"strconv"

	"github.com/kvi-db/kvi/pkg/hash"
	"github.com/kvi-db/kvi/pkg/store"
)

// readerBufferSize is the short, fixed buffer the parser reads through;
// commands and keys are small, so there is little to gain from a larger
// buffer and much to lose in per-connection memory at high concurrency.
const readerBufferSize = 128

// directWriteThreshold is the bulk string payload size above which writes
// bypass the staging buffer and go straight to the socket.
const directWriteThreshold = 128

// Stream wraps one TCP connection with the RESP3 subset parser and
// generator. It is handed by value reference between a Connection and a
// Shard as a command is serviced — only one goroutine ever operates on a
// Stream at a time, which is what gives per-connection commands their
// strict ordering.
type Stream struct {
	conn      net.Conn
	reader    *bufio.Reader
	outBuf    []byte
	remaining int
}

// NewStream wraps conn for RESP3 command pipelining.
func NewStream(conn net.Conn) *Stream {
	return &Stream{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readerBufferSize),
		outBuf: make([]byte, 0, directWriteThreshold),
	}
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the underlying connection's remote address, for
// logging.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Read satisfies io.Reader by delegating to the buffered socket reader,
// letting a Stream be passed directly as the reader argument to
// Allocator.Allocate when reading a SET value's bytes.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err != nil {
		return n, classifyIOError(err)
	}
	return n, nil
}

// --- line and header parsing ---

func (s *Stream) readLine() ([]byte, error) {
	line, err := s.reader.ReadSlice('\n')
	if err != nil {
		return nil, classifyIOError(err)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, Hard("the syntax is invalid")
	}
	return line[:len(line)-2], nil
}

func (s *Stream) readByte() (byte, error) {
	b, err := s.reader.ReadByte()
	if err != nil {
		return 0, classifyIOError(err)
	}
	return b, nil
}

// readSizedLine reads a line whose first byte must equal prefix, returning
// the signed integer that follows (array/bulk-string length, or a RESP
// integer reply's value). Leading zeros and an optional sign are accepted;
// a value that does not fit in an int64 is rejected as a syntax error.
func (s *Stream) readSizedLine(prefix byte) (int64, error) {
	b, err := s.readByte()
	if err != nil {
		return 0, err
	}
	if b != prefix {
		return 0, Hard("the syntax is invalid")
	}
	line, err := s.readLine()
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.ParseInt(string(line), 10, 64)
	if convErr != nil {
		return 0, Hard("the syntax is invalid")
	}
	return n, nil
}

func (s *Stream) readArrayHeader() (int64, error) {
	return s.readSizedLine('*')
}

func (s *Stream) readBulkStringHeader() (int64, error) {
	return s.readSizedLine('$')
}

func (s *Stream) expectCRLF() error {
	cr, err := s.readByte()
	if err != nil {
		return err
	}
	lf, err := s.readByte()
	if err != nil {
		return err
	}
	if cr != '\r' || lf != '\n' {
		return Hard("the syntax is invalid")
	}
	return nil
}

// readBulkString reads a complete "$<n>\r\n<n bytes>\r\n" element.
func (s *Stream) readBulkString() ([]byte, error) {
	n, err := s.readBulkStringHeader()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, Hard("the syntax is invalid")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, classifyIOError(err)
	}
	if err := s.expectCRLF(); err != nil {
		return nil, err
	}
	return buf, nil
}

// --- pipeline API ---

// StartPipeline reads the outer array header that begins a new pipeline
// and records its element count as the number of bulk strings remaining
// to be consumed.
func (s *Stream) StartPipeline() error {
	n, err := s.readArrayHeader()
	if err != nil {
		return err
	}
	if n < 0 {
		return Hard("the syntax is invalid")
	}
	s.remaining = int(n)
	return nil
}

// ReadPipelineCommand reads the next command name in the current pipeline,
// starting a new pipeline first if the previous one is exhausted. An
// unrecognized command name is reported as a Soft error; the caller must
// then call SkipRemainingStrings to resynchronize the stream before
// reading the next pipeline.
func (s *Stream) ReadPipelineCommand() (Command, error) {
	if s.remaining <= 0 {
		if err := s.StartPipeline(); err != nil {
			return CommandUnknown, err
		}
	}
	name, err := s.readBulkString()
	if err != nil {
		return CommandUnknown, err
	}
	s.remaining--
	cmd := parseCommand(name)
	if cmd == CommandUnknown {
		return CommandUnknown, Soft("the command %s is invalid", name)
	}
	return cmd, nil
}

// ReadPipelineString reads and decodes the next pipeline argument as text.
func (s *Stream) ReadPipelineString() (string, error) {
	b, err := s.ReadPipelineBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadPipelineBytes reads the next pipeline argument as an owned byte
// buffer.
func (s *Stream) ReadPipelineBytes() ([]byte, error) {
	b, err := s.readBulkString()
	if err != nil {
		return nil, err
	}
	s.remaining--
	return b, nil
}

// ReadKey reads the next pipeline argument as a key name and computes its
// hash once, using h.
func (s *Stream) ReadKey(h hash.Hasher) (store.Key, error) {
	name, err := s.ReadPipelineBytes()
	if err != nil {
		return store.Key{}, err
	}
	return store.Key{Name: name, Hash: h.Hash(name)}, nil
}

// ReadBulkStringValue reads the header of the next pipeline argument, then
// lets allocate consume exactly that many bytes directly from the stream
// — typically an Allocator's Allocate method, so a SET value's bytes land
// straight in their final Block slot with no intermediate copy.
func (s *Stream) ReadBulkStringValue(allocate func(r io.Reader, size int) (store.Value, error)) (store.Value, error) {
	n, err := s.readBulkStringHeader()
	if err != nil {
		return store.Value{}, err
	}
	if n < 0 {
		return store.Value{}, Hard("the syntax is invalid")
	}
	s.remaining--
	v, err := allocate(s, int(n))
	if err != nil {
		if _, ok := err.(*Error); ok {
			return store.Value{}, err
		}
		return store.Value{}, classifyIOError(err)
	}
	if err := s.expectCRLF(); err != nil {
		return store.Value{}, err
	}
	return v, nil
}

// SkipRemainingStrings drains every bulk string left in the current
// pipeline without interpreting it, resynchronizing the stream after a
// Soft error.
func (s *Stream) SkipRemainingStrings() error {
	for s.remaining > 0 {
		if _, err := s.readBulkString(); err != nil {
			return err
		}
		s.remaining--
	}
	return nil
}

// --- generator ---

func (s *Stream) appendOut(b []byte) error {
	if len(s.outBuf)+len(b) > cap(s.outBuf) {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	s.outBuf = append(s.outBuf, b...)
	return nil
}

// Flush writes any staged output bytes to the socket.
func (s *Stream) Flush() error {
	if len(s.outBuf) == 0 {
		return nil
	}
	if _, err := s.conn.Write(s.outBuf); err != nil {
		s.outBuf = s.outBuf[:0]
		return classifyIOError(err)
	}
	s.outBuf = s.outBuf[:0]
	return nil
}

// WriteOK writes the simple string reply used for a successful SET.
func (s *Stream) WriteOK() error {
	return s.appendOut([]byte("+OK\r\n"))
}

// WriteNil writes the nil bulk string reply used for a GET on an absent
// key.
func (s *Stream) WriteNil() error {
	return s.appendOut([]byte("$-1\r\n"))
}

// WriteInt writes a RESP3 integer reply.
func (s *Stream) WriteInt(n int64) error {
	return s.appendOut([]byte(":" + strconv.FormatInt(n, 10) + "\r\n"))
}

// WriteError writes a RESP3 error reply. msg should not include the "ERR "
// prefix or trailing CRLF.
func (s *Stream) WriteError(msg string) error {
	return s.appendOut([]byte("-ERR " + msg + "\r\n"))
}

// WriteMapHeader writes a RESP3 map header of n key/value pairs; the
// caller writes the 2*n elements that follow.
func (s *Stream) WriteMapHeader(n int) error {
	return s.appendOut([]byte("%" + strconv.Itoa(n) + "\r\n"))
}

// WriteArrayHeader writes an array header of n elements; the caller
// writes the n elements that follow.
func (s *Stream) WriteArrayHeader(n int) error {
	return s.appendOut([]byte("*" + strconv.Itoa(n) + "\r\n"))
}

// WriteBulkString writes a RESP3 bulk string. Payloads larger than
// directWriteThreshold bypass the staging buffer: the header is flushed,
// then the payload is written straight to the socket.
func (s *Stream) WriteBulkString(data []byte) error {
	header := []byte("$" + strconv.Itoa(len(data)) + "\r\n")
	if len(data) <= directWriteThreshold {
		if err := s.appendOut(header); err != nil {
			return err
		}
		if err := s.appendOut(data); err != nil {
			return err
		}
		return s.appendOut([]byte("\r\n"))
	}

	if err := s.appendOut(header); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}
	if _, err := s.conn.Write(data); err != nil {
		return classifyIOError(err)
	}
	return s.appendOut([]byte("\r\n"))
}

// WriteHelloResponse writes the three-entry handshake reply map:
// server -> "kvi", version -> version, proto -> 3.
func (s *Stream) WriteHelloResponse(version string) error {
	if err := s.WriteMapHeader(3); err != nil {
		return err
	}
	if err := s.WriteBulkString([]byte("server")); err != nil {
		return err
	}
	if err := s.WriteBulkString([]byte("kvi")); err != nil {
		return err
	}
	if err := s.WriteBulkString([]byte("version")); err != nil {
		return err
	}
	if err := s.WriteBulkString([]byte(version)); err != nil {
		return err
	}
	if err := s.WriteBulkString([]byte("proto")); err != nil {
		return err
	}
	return s.WriteInt(3)
}
