// Command kvi-cli is an interactive RESP3 client for a running kvi server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

const helpText = `
kvi-cli - interactive client for a kvi server

Commands:
  SET key value           - store a key/value pair
  GET key                 - retrieve a value by key
  DEL key                 - delete a key
  KEYS                    - list every key
  .help                   - show this help message
  .exit                   - exit the program
`

var completer = readline.NewPrefixCompleter(
	readline.PcItem("SET"),
	readline.PcItem("GET"),
	readline.PcItem("DEL"),
	readline.PcItem("KEYS"),
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
)

// client is a minimal RESP3 reply reader/request writer for the handful of
// commands the CLI sends. Unlike pkg/resp.Stream, which implements the
// server's pipeline-and-command-dispatch semantics, the CLI only ever
// writes one fixed-shape request at a time and reads back one reply, so it
// carries its own small codec rather than repurposing the server's.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newClient(conn net.Conn) *client {
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) writeArray(args ...string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	_, err := c.conn.Write([]byte(b.String()))
	return err
}

func (c *client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

// readReply reads one complete RESP3 value and returns it: a simple
// string's line as a string, an integer as an int64, a bulk string's
// payload as []byte (nil for $-1), or a []interface{} of the decoded
// elements for arrays and maps (maps read 2*n elements). An error reply is
// returned as a Go error carrying the line's text.
func (c *client) readReply() (interface{}, error) {
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+', '-':
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if prefix == '-' {
			return nil, fmt.Errorf("%s", line)
		}
		return line, nil
	case ':':
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		return strconv.ParseInt(line, 10, 64)
	case '$':
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return nil, err
		}
		return buf[:n], nil
	case '*', '%':
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		count := n
		if prefix == '%' {
			count = n * 2
		}
		items := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			item, err := c.readReply()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected reply prefix %q", prefix)
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:20252", "address of the kvi server")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to %s: %s\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := newClient(conn)
	if err := c.writeArray("HELLO", "3"); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending handshake: %s\n", err)
		os.Exit(1)
	}
	if _, err := c.readReply(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during handshake: %s\n", err)
		os.Exit(1)
	}

	historyFile := filepath.Join(os.TempDir(), ".kvi_cli_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kvi> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("Connected to kvi at", *addr)
	fmt.Println("Enter .help for usage hints.")

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				continue
			}
			if readErr == io.EOF {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch strings.ToUpper(parts[0]) {
		case ".HELP":
			fmt.Print(helpText)
		case ".EXIT":
			fmt.Println("Goodbye!")
			return
		case "SET":
			if len(parts) < 3 {
				fmt.Println("Error: SET requires key and value arguments")
				continue
			}
			value := strings.Join(parts[2:], " ")
			if err := c.writeArray("SET", parts[1], value); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			if _, err := c.readReply(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			fmt.Println("OK")
		case "GET":
			if len(parts) != 2 {
				fmt.Println("Error: GET requires exactly one key argument")
				continue
			}
			if err := c.writeArray("GET", parts[1]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			reply, err := c.readReply()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			} else if reply == nil {
				fmt.Println("(nil)")
			} else {
				fmt.Println(string(reply.([]byte)))
			}
		case "DEL":
			if len(parts) != 2 {
				fmt.Println("Error: DEL requires exactly one key argument")
				continue
			}
			if err := c.writeArray("DEL", parts[1]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			reply, err := c.readReply()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			if reply.(int64) == 1 {
				fmt.Println("(1) key deleted")
			} else {
				fmt.Println("(0) key did not exist")
			}
		case "KEYS":
			if err := c.writeArray("KEYS"); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			reply, err := c.readReply()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				continue
			}
			items := reply.([]interface{})
			for _, item := range items {
				fmt.Println(string(item.([]byte)))
			}
			fmt.Printf("%d key(s)\n", len(items))
		default:
			fmt.Printf("Unknown command: %s\n", parts[0])
		}
	}
}
