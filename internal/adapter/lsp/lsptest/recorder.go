package lsptest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// Received is one message observed by the mock server.
type Received struct {
	Method   string          `json:"method,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Response bool            `json:"response,omitempty"` // reply to a server request
	Result   json.RawMessage `json:"result,omitempty"`
}

// Recorder reads what the mock server received.
type Recorder struct {
	path string
}

// Spec returns a LaunchSpec that runs the test binary as a mock server with
// the given behavior, plus a Recorder for the messages it receives.
func Spec(t testing.TB, behavior Behavior) (lspDomain.LaunchSpec, *Recorder) {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	path := filepath.Join(t.TempDir(), "received.jsonl")
	spec := lspDomain.LaunchSpec{
		Command: exe,
		Args:    []string{"-test.run=^$"},
		Env: map[string]string{
			EnvBehavior: string(behavior),
			EnvRecord:   path,
		},
	}
	return spec, &Recorder{path: path}
}

// Messages returns every complete record written so far.
func (r *Recorder) Messages() []Received {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var out []Received
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		var rec Received
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue // partially written line
		}
		out = append(out, rec)
	}
	return out
}

// Methods returns the methods of all received requests and notifications.
func (r *Recorder) Methods() []string {
	var out []string
	for _, m := range r.Messages() {
		if m.Method != "" {
			out = append(out, m.Method)
		}
	}
	return out
}

// Count returns how many messages with method were received.
func (r *Recorder) Count(method string) int {
	n := 0
	for _, m := range r.Messages() {
		if m.Method == method {
			n++
		}
	}
	return n
}

// WaitFor polls until n messages with method have been received, failing the
// test after timeout. It returns the received messages with that method.
func (r *Recorder) WaitFor(t testing.TB, method string, n int, timeout time.Duration) []Received {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		var got []Received
		for _, m := range r.Messages() {
			if m.Method == method {
				got = append(got, m)
			}
		}
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("waited %v for %d %q messages, got %d (seen %v)", timeout, n, method, len(got), r.Methods())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Responses returns the replies the client sent to server requests.
func (r *Recorder) Responses() []Received {
	var out []Received
	for _, m := range r.Messages() {
		if m.Response {
			out = append(out, m)
		}
	}
	return out
}
