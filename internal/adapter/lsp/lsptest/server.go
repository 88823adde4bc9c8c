// Package lsptest provides a scripted language server for tests. The test
// binary re-executes itself as the server: a package's TestMain calls Main when
// Helper reports true, and Spec returns the LaunchSpec that triggers it.
package lsptest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Behavior selects how the server reacts to the handshake.
type Behavior string

const (
	// Normal answers initialize and shutdown, and publishes one diagnostic per
	// didOpen/didChange carrying the document version.
	Normal Behavior = "normal"
	// Silent never answers initialize.
	Silent Behavior = "silent"
	// Reject answers initialize with a JSON-RPC error.
	Reject Behavior = "reject"
	// NoCapabilities answers initialize with an empty object.
	NoCapabilities Behavior = "no_capabilities"
	// Stubborn never answers shutdown and ignores SIGTERM.
	Stubborn Behavior = "stubborn"
	// ExitOnInitialize exits with code 3 as soon as initialize arrives.
	ExitOnInitialize Behavior = "exit_on_initialize"
	// Deaf completes the handshake and then stops reading stdin, so writes
	// from the client block once the pipe buffer fills.
	Deaf Behavior = "deaf"
)

// Control notifications understood in every behavior.
const (
	MethodCrash   = "lsptest/crash"   // exit with code 3
	MethodGarbage = "lsptest/garbage" // write a malformed frame
)

// Environment variables read by the helper process.
const (
	EnvBehavior = "LSPTEST_BEHAVIOR"
	EnvRecord   = "LSPTEST_RECORD"
)

// Helper reports whether this process was launched as the mock server.
func Helper() bool {
	return os.Getenv(EnvBehavior) != ""
}

// Main runs the mock server on stdin/stdout and returns the exit code.
func Main() int {
	behavior := Behavior(os.Getenv(EnvBehavior))
	if behavior == Stubborn {
		signal.Ignore(syscall.SIGTERM)
	}

	var record io.Writer = io.Discard
	if path := os.Getenv(EnvRecord); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lsptest: open record:", err)
			return 2
		}
		defer f.Close()
		record = f
	}

	fmt.Fprintln(os.Stderr, "lsptest: serving", behavior)
	return Serve(os.Stdin, os.Stdout, behavior, record)
}

type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type server struct {
	r        *bufio.Reader
	w        io.Writer
	record   *json.Encoder
	behavior Behavior
	shutdown bool
	nextID   int
}

// Serve reads framed messages from r and answers on w until exit or EOF.
// Every received message is appended to record as one JSON line.
func Serve(r io.Reader, w io.Writer, behavior Behavior, record io.Writer) int {
	s := &server{
		r:        bufio.NewReader(r),
		w:        w,
		record:   json.NewEncoder(record),
		behavior: behavior,
	}
	for {
		msg, err := s.read()
		if err != nil {
			return 1
		}
		_ = s.record.Encode(Received{Method: msg.Method, Params: msg.Params, Response: msg.Method == "", Result: msg.Result})

		if code, done := s.handle(msg); done {
			return code
		}
	}
}

func (s *server) handle(msg *message) (int, bool) {
	switch msg.Method {
	case "initialize":
		switch s.behavior {
		case Silent:
		case Reject:
			s.reply(msg.ID, nil, map[string]any{"code": -32603, "message": "initialize rejected"})
		case NoCapabilities:
			s.reply(msg.ID, map[string]any{}, nil)
		case ExitOnInitialize:
			return 3, true
		default:
			s.reply(msg.ID, map[string]any{
				"capabilities": map[string]any{"textDocumentSync": 1},
				"serverInfo":   map[string]any{"name": "lsptest", "version": "1.0"},
			}, nil)
		}
	case "initialized":
		s.notify("window/logMessage", map[string]any{"type": 3, "message": "lsptest ready"})
		s.request("workspace/configuration", map[string]any{
			"items": []map[string]any{{"section": "lsptest"}, {"section": "other"}},
		})
		if s.behavior == Deaf {
			time.Sleep(time.Hour)
		}
	case "textDocument/didOpen", "textDocument/didChange":
		var params struct {
			TextDocument struct {
				URI     string `json:"uri"`
				Version int    `json:"version"`
			} `json:"textDocument"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		s.notify("textDocument/publishDiagnostics", map[string]any{
			"uri": params.TextDocument.URI,
			"diagnostics": []map[string]any{{
				"range":    map[string]any{"start": map[string]int{"line": 0, "character": 0}, "end": map[string]int{"line": 0, "character": 1}},
				"severity": 2,
				"source":   "lsptest",
				"message":  "version " + strconv.Itoa(params.TextDocument.Version),
			}},
		})
	case "shutdown":
		if s.behavior == Stubborn {
			return 0, false
		}
		s.shutdown = true
		s.reply(msg.ID, nil, nil)
	case "exit":
		if s.shutdown {
			return 0, true
		}
		return 1, true
	case MethodCrash:
		return 3, true
	case MethodGarbage:
		_, _ = io.WriteString(s.w, "Content-Length: banana\r\n\r\n{}")
	}
	return 0, false
}

func (s *server) read() (*message, error) {
	length := -1
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		name, value, _ := strings.Cut(line, ":")
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			if length, err = strconv.Atoi(strings.TrimSpace(value)); err != nil {
				return nil, err
			}
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, err
	}
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, errors.New("lsptest: bad message")
	}
	return &msg, nil
}

func (s *server) write(msg message) {
	msg.JSONRPC = "2.0"
	data, _ := json.Marshal(msg)
	fmt.Fprintf(s.w, "Content-Length: %d\r\n\r\n%s", len(data), data)
}

func (s *server) reply(id json.RawMessage, result, rpcErr any) {
	msg := message{ID: id}
	if rpcErr != nil {
		msg.Error, _ = json.Marshal(rpcErr)
	} else {
		msg.Result, _ = json.Marshal(result)
	}
	s.write(msg)
}

func (s *server) notify(method string, params any) {
	raw, _ := json.Marshal(params)
	s.write(message{Method: method, Params: raw})
}

func (s *server) request(method string, params any) {
	s.nextID++
	raw, _ := json.Marshal(params)
	s.write(message{ID: json.RawMessage(strconv.Itoa(s.nextID)), Method: method, Params: raw})
}
