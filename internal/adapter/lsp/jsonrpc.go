package lsp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// maxFrameSize bounds a single message body. Larger declared lengths are
// treated as a desynchronized stream.
const maxFrameSize = 64 << 20

// JSON-RPC 2.0 error codes used by the transport.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Message represents a JSON-RPC 2.0 message (request, response, or notification).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`     // absent for notifications; number or string
	Method  string          `json:"method,omitempty"` // present for requests/notifications
	Params  json.RawMessage `json:"params,omitempty"` // request/notification params
	Result  json.RawMessage `json:"result,omitempty"` // response result
	Error   *ResponseError  `json:"error,omitempty"`  // response error
}

// hasID reports whether the message carries a non-null id.
func (m *Message) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// IsResponse reports whether m answers a request.
func (m *Message) IsResponse() bool { return m.hasID() && m.Method == "" }

// IsRequest reports whether m is a request expecting a reply.
func (m *Message) IsRequest() bool { return m.hasID() && m.Method != "" }

// IsNotification reports whether m is a notification.
func (m *Message) IsNotification() bool { return !m.hasID() && m.Method != "" }

// ResponseError represents a JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Conn wraps an io.ReadWriteCloser (the stdio of the server process) and
// implements JSON-RPC 2.0 with Content-Length header framing.
// Write is safe for concurrent use; Read must be called from a single goroutine.
type Conn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex // protects writes
}

// NewConn creates a new framed connection over the given stream.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc:    rwc,
		reader: bufio.NewReaderSize(rwc, 64*1024),
	}
}

// Write encodes msg and writes it as one frame.
func (c *Conn) Write(msg *Message) error {
	msg.JSONRPC = "2.0"
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writeFrame(data)
}

// Read blocks until one complete frame has been read and decoded.
func (c *Conn) Read() (*Message, error) {
	data, err := c.readFrame()
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, protocolError(fmt.Errorf("unmarshal message: %w", err))
	}
	if msg.Method == "" && !msg.hasID() && msg.Error == nil {
		return nil, protocolError(errors.New("message has neither method nor id"))
	}
	return &msg, nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// writeFrame writes the Content-Length header and body under the write lock,
// so frames from concurrent senders never interleave.
func (c *Conn) writeFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"
	if _, err := io.WriteString(c.rwc, header); err != nil {
		return closedError(fmt.Errorf("write header: %w", err))
	}
	if _, err := c.rwc.Write(data); err != nil {
		return closedError(fmt.Errorf("write body: %w", err))
	}
	return nil
}

// readFrame reads one Content-Length-framed body.
func (c *Conn) readFrame() ([]byte, error) {
	contentLength := -1
	sawHeader := false
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, closedError(fmt.Errorf("read header: %w", err))
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !sawHeader {
				continue // stray separator between frames
			}
			break
		}
		sawHeader = true
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, protocolError(fmt.Errorf("malformed header %q", line))
		}
		// Ignore other headers (e.g. Content-Type).
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, protocolError(fmt.Errorf("parse Content-Length %q: %w", value, err))
		}
		if n < 0 || n > maxFrameSize {
			return nil, protocolError(fmt.Errorf("invalid Content-Length %d", n))
		}
		contentLength = n
	}
	if contentLength < 0 {
		return nil, protocolError(errors.New("missing Content-Length header"))
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, closedError(fmt.Errorf("read body (%d bytes): %w", contentLength, err))
	}
	if !json.Valid(bytes.TrimSpace(body)) {
		return nil, protocolError(fmt.Errorf("body of %d bytes is not valid JSON", contentLength))
	}
	return body, nil
}

func protocolError(err error) error {
	return &lspDomain.TransportError{Reason: lspDomain.TransportProtocol, Err: err}
}

func closedError(err error) error {
	return &lspDomain.TransportError{Reason: lspDomain.TransportClosed, Err: err}
}
