package iiod

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultPort is the TCP port iiod listens on.
const DefaultPort = 30431

const ioTimeout = 5 * time.Second

// Error carries the errno-style status returned by iiod for a failed command.
type Error struct {
	Cmd    string
	Status int
}

func (e *Error) Error() string {
	return fmt.Sprintf("iiod: %s failed with status %d", e.Cmd, e.Status)
}

// ContextInfo describes the remote iiod instance as reported by VERSION.
type ContextInfo struct {
	Major       int
	Minor       int
	Description string
}

// Client is a synchronous client for the iiod text protocol. Every call is a
// blocking round-trip on a single TCP connection; the client itself is not
// safe for concurrent use.
type Client struct {
	uri        string
	conn       net.Conn
	reader     *bufio.Reader
	xmlContext []byte
}

// Dial connects to an iiod server. The URI may be "host:port", "ip:host" or
// "ip:host:port"; a missing port defaults to DefaultPort.
func Dial(uri string) (*Client, error) {
	return DialContext(context.Background(), uri)
}

// DialContext connects with bounded exponential retry, giving flaky
// network-attached contexts a few seconds to come up.
func DialContext(ctx context.Context, uri string) (*Client, error) {
	addr, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	dial := func() error {
		d := net.Dialer{Timeout: 3 * time.Second}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("connect to iiod at %s: %w", addr, err)
	}

	return &Client{
		uri:    uri,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// parseURI normalizes the supported URI forms into a dialable address.
func parseURI(uri string) (string, error) {
	s := strings.TrimSpace(uri)
	s = strings.TrimPrefix(s, "ip:")
	if s == "" {
		return "", errors.New("iiod: empty URI")
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		s = net.JoinHostPort(s, strconv.Itoa(DefaultPort))
	}
	return s, nil
}

// URI returns the URI the client was dialed with.
func (c *Client) URI() string { return c.uri }

// Close shuts down the connection. Closing twice returns an error.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return errors.New("iiod: not connected")
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// exec sends one command line and reads the "<status> <len>\n" response
// header plus payload. A non-zero status becomes an *Error.
func (c *Client) exec(cmd string) ([]byte, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("iiod: not connected")
	}

	c.conn.SetDeadline(time.Now().Add(ioTimeout))
	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		return nil, fmt.Errorf("send %q: %w", cmd, err)
	}
	return c.readResponse(cmd)
}

// execBinary sends a command line followed by a length-prefixed binary
// payload (used by WRITEBUF).
func (c *Client) execBinary(cmd string, payload []byte) ([]byte, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("iiod: not connected")
	}

	c.conn.SetDeadline(time.Now().Add(ioTimeout))
	if _, err := fmt.Fprintf(c.conn, "%s\n", cmd); err != nil {
		return nil, fmt.Errorf("send %q: %w", cmd, err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := c.conn.Write(prefix[:]); err != nil {
		return nil, fmt.Errorf("send payload length: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send payload: %w", err)
	}
	return c.readResponse(cmd)
}

func (c *Client) readResponse(cmd string) ([]byte, error) {
	header, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response header for %q: %w", cmd, err)
	}

	fields := strings.Fields(strings.TrimSpace(header))
	if len(fields) != 2 {
		return nil, fmt.Errorf("malformed response header %q", strings.TrimSpace(header))
	}
	status, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("malformed status in header %q", strings.TrimSpace(header))
	}
	length, err := strconv.Atoi(fields[1])
	if err != nil || length < 0 {
		return nil, fmt.Errorf("malformed length in header %q", strings.TrimSpace(header))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, fmt.Errorf("read %d payload bytes for %q: %w", length, cmd, err)
	}

	if status != 0 {
		return nil, &Error{Cmd: strings.Fields(cmd)[0], Status: status}
	}
	return payload, nil
}

func (c *Client) execString(cmd string) (string, error) {
	payload, err := c.exec(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(payload), "\r\n"), nil
}

// Version queries the remote iiod version.
func (c *Client) Version() (ContextInfo, error) {
	resp, err := c.execString("VERSION")
	if err != nil {
		return ContextInfo{}, err
	}
	fields := strings.SplitN(resp, " ", 3)
	if len(fields) < 2 {
		return ContextInfo{}, fmt.Errorf("malformed VERSION reply %q", resp)
	}
	info := ContextInfo{}
	if info.Major, err = strconv.Atoi(fields[0]); err != nil {
		return ContextInfo{}, fmt.Errorf("malformed VERSION reply %q", resp)
	}
	if info.Minor, err = strconv.Atoi(fields[1]); err != nil {
		return ContextInfo{}, fmt.Errorf("malformed VERSION reply %q", resp)
	}
	if len(fields) == 3 {
		info.Description = fields[2]
	}
	return info, nil
}

// GetXMLContext dumps the full context description via PRINT. The document is
// cached; the context is immutable for the lifetime of the connection.
func (c *Client) GetXMLContext() ([]byte, error) {
	if c.xmlContext != nil {
		return c.xmlContext, nil
	}
	payload, err := c.exec("PRINT")
	if err != nil {
		return nil, err
	}
	// Some servers prepend noise before the document proper.
	if idx := strings.Index(string(payload), "<"); idx > 0 {
		payload = payload[idx:]
	}
	c.xmlContext = payload
	return payload, nil
}

// ListDevices returns the device identifiers known to the context.
func (c *Client) ListDevices() ([]string, error) {
	resp, err := c.execString("LIST_DEVICES")
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return []string{}, nil
	}
	return strings.Fields(resp), nil
}

// ListChannels returns the channel identifiers of a device.
func (c *Client) ListChannels(device string) ([]string, error) {
	if device == "" {
		return nil, errors.New("iiod: device is required")
	}
	resp, err := c.execString("LIST_CHANNELS " + device)
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return []string{}, nil
	}
	return strings.Fields(resp), nil
}

func direction(output bool) string {
	if output {
		return "OUTPUT"
	}
	return "INPUT"
}

// ReadChannelAttr reads one channel attribute in the given direction.
func (c *Client) ReadChannelAttr(device string, output bool, channel, attr string) (string, error) {
	if device == "" || channel == "" || attr == "" {
		return "", errors.New("iiod: device, channel and attr are required")
	}
	return c.execString(fmt.Sprintf("READ_ATTR %s %s %s %s", device, direction(output), channel, attr))
}

// WriteChannelAttr writes one channel attribute in the given direction.
func (c *Client) WriteChannelAttr(device string, output bool, channel, attr, value string) error {
	if device == "" || channel == "" || attr == "" {
		return errors.New("iiod: device, channel and attr are required")
	}
	_, err := c.exec(fmt.Sprintf("WRITE_ATTR %s %s %s %s %s", device, direction(output), channel, attr, value))
	return err
}

// ReadDeviceAttr reads one device-level attribute.
func (c *Client) ReadDeviceAttr(device, attr string) (string, error) {
	if device == "" || attr == "" {
		return "", errors.New("iiod: device and attr are required")
	}
	return c.execString(fmt.Sprintf("READ_ATTR %s %s", device, attr))
}

// WriteDeviceAttr writes one device-level attribute.
func (c *Client) WriteDeviceAttr(device, attr, value string) error {
	if device == "" || attr == "" {
		return errors.New("iiod: device and attr are required")
	}
	_, err := c.exec(fmt.Sprintf("WRITE_ATTR %s %s %s", device, attr, value))
	return err
}

func (c *Client) openBuffer(device string, samples int) error {
	_, err := c.exec(fmt.Sprintf("OPEN %s %d", device, samples))
	return err
}

func (c *Client) readBuffer(device string, samples int) ([]byte, error) {
	return c.exec(fmt.Sprintf("READBUF %s %d", device, samples))
}

func (c *Client) writeBuffer(device string, data []byte) error {
	_, err := c.execBinary(fmt.Sprintf("WRITEBUF %s %d", device, len(data)), data)
	return err
}

func (c *Client) closeBuffer(device string) error {
	_, err := c.exec("CLOSE " + device)
	return err
}
