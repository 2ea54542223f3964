// Package comm implements line-oriented ASCII transactions with lab
// instruments over TCP or a serial port. Commands are terminated with
// a configurable transmit terminator; replies are read up to the
// receive terminator after an optional settle delay, since some
// instruments need time to compose an answer.
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// ErrClosed is returned for transactions on a closed connection.
var ErrClosed = errors.New("comm: connection closed")

// Config describes one instrument link.
type Config struct {
	// Address is either "tcp://host:port" or a serial device path
	// such as "/dev/ttyUSB0" or "COM3".
	Address string
	// Baud applies to serial links only.
	Baud int
	// TxTerm is appended to every outgoing command.
	TxTerm string
	// RxTerm ends every instrument reply.
	RxTerm string
	// Settle is the wait between sending a query and reading the
	// reply.
	Settle time.Duration
	// Timeout bounds dialing and serial reads.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.TxTerm == "" {
		c.TxTerm = "\r"
	}
	if c.RxTerm == "" {
		c.RxTerm = c.TxTerm
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Conn is a single-transaction-at-a-time instrument connection.
type Conn struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	br     *bufio.Reader
	cfg    Config
	closed bool
}

// Dial opens the instrument link described by cfg.
func Dial(cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	if addr, ok := strings.CutPrefix(cfg.Address, "tcp://"); ok {
		nc, err := net.DialTimeout("tcp", addr, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("comm: dial %s: %w", cfg.Address, err)
		}
		return Wrap(nc, cfg), nil
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Address,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("comm: open %s: %w", cfg.Address, err)
	}
	return Wrap(port, cfg), nil
}

// Wrap builds a Conn around an existing transport. Tests use this with
// an in-memory pipe.
func Wrap(rw io.ReadWriteCloser, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{rw: rw, br: bufio.NewReader(rw), cfg: cfg}
}

// Tell sends a command without expecting a reply.
func (c *Conn) Tell(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(cmd)
}

// Ask sends a query and returns the reply with the terminator
// stripped.
func (c *Conn) Ask(query string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(query); err != nil {
		return "", err
	}
	if c.cfg.Settle > 0 {
		time.Sleep(c.cfg.Settle)
	}
	return c.recv()
}

func (c *Conn) send(cmd string) error {
	if c.closed {
		return ErrClosed
	}
	if !strings.HasSuffix(cmd, c.cfg.TxTerm) {
		cmd += c.cfg.TxTerm
	}
	if _, err := io.WriteString(c.rw, cmd); err != nil {
		return fmt.Errorf("comm: write: %w", err)
	}
	return nil
}

func (c *Conn) recv() (string, error) {
	term := c.cfg.RxTerm
	delim := term[len(term)-1]
	var b strings.Builder
	for {
		chunk, err := c.br.ReadString(delim)
		b.WriteString(chunk)
		if err != nil {
			return "", fmt.Errorf("comm: read: %w", err)
		}
		if strings.HasSuffix(b.String(), term) {
			return strings.TrimSuffix(b.String(), term), nil
		}
	}
}

// Close shuts the underlying transport. Further transactions fail
// with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rw.Close()
}
