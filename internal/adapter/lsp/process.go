package lsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// waitDelay bounds how long Wait keeps copying stderr after the process has
// exited, in case a grandchild still holds the pipe.
const waitDelay = time.Second

// ProcessOption configures Spawn.
type ProcessOption func(*processOptions)

type processOptions struct {
	logger *slog.Logger
	stderr io.Writer
}

// WithProcessLogger sets the logger used for process events and stderr lines.
func WithProcessLogger(l *slog.Logger) ProcessOption {
	return func(o *processOptions) { o.logger = l }
}

// WithStderr sends the server's stderr to w instead of the logger.
func WithStderr(w io.Writer) ProcessOption {
	return func(o *processOptions) { o.stderr = w }
}

// Process is a running language server subprocess.
type Process struct {
	cmd    *exec.Cmd
	stdin  *os.File // parent's write end
	stdout *os.File // parent's read end
	logger *slog.Logger

	exited  chan struct{}
	waitErr error

	termMu sync.Mutex // serializes Terminate
}

// Spawn starts the server described by spec with piped stdin/stdout.
// The returned error is a *lsp.LaunchError.
func Spawn(spec lspDomain.LaunchSpec, opts ...ProcessOption) (*Process, error) {
	o := processOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if spec.Command == "" {
		return nil, &lspDomain.LaunchError{Reason: lspDomain.LaunchNotFound, Err: errors.New("empty command")}
	}
	if err := spec.Validate(); err != nil {
		return nil, &lspDomain.LaunchError{Reason: lspDomain.LaunchOSError, Command: spec.Command, Err: err}
	}

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, launchError(spec.Command, err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, launchError(spec.Command, fmt.Errorf("stdin pipe: %w", err))
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, launchError(spec.Command, fmt.Errorf("stdout pipe: %w", err))
	}

	cmd := exec.Command(path, spec.Args...) //nolint:gosec // command comes from operator config
	cmd.Dir = spec.Dir
	cmd.Env = spec.Environ(os.Environ())
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.WaitDelay = waitDelay
	if o.stderr != nil {
		cmd.Stderr = o.stderr
	} else {
		cmd.Stderr = &lineLogger{logger: o.logger, msg: "lsp server stderr"}
	}

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, launchError(spec.Command, err)
	}
	// The child holds its own copies now.
	closeAll(stdinR, stdoutW)

	p := &Process{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		logger: o.logger.With("pid", cmd.Process.Pid),
		exited: make(chan struct{}),
	}
	go p.wait()

	p.logger.Info("lsp server spawned", "command", spec.String())
	return p, nil
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Stdio returns the server's stdin and stdout as one stream.
func (p *Process) Stdio() io.ReadWriteCloser {
	return stdioPipe{stdin: p.stdin, stdout: p.stdout}
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// Terminate asks the process to exit with SIGTERM and kills it if it is still
// running after grace. A grace of zero kills immediately. Terminate is
// idempotent and returns once the process has been reaped.
func (p *Process) Terminate(grace time.Duration) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()
	defer p.closePipes()

	select {
	case <-p.exited:
		return nil
	default:
	}

	if grace > 0 {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Debug("lsp server SIGTERM failed", "error", err)
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.exited:
			return nil
		case <-timer.C:
		}
		p.logger.Warn("lsp server ignored SIGTERM, killing", "grace", grace)
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill lsp server: %w", err)
	}
	<-p.exited
	return nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
	p.logger.Debug("lsp server exited", "code", p.cmd.ProcessState.ExitCode(), "error", p.waitErr)
}

func (p *Process) closePipes() {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
}

// launchError classifies err into a LaunchError reason.
func launchError(command string, err error) error {
	reason := lspDomain.LaunchOSError
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, exec.ErrDot), errors.Is(err, fs.ErrNotExist):
		reason = lspDomain.LaunchNotFound
	case errors.Is(err, fs.ErrPermission):
		reason = lspDomain.LaunchPermissionDenied
	}
	return &lspDomain.LaunchError{Reason: reason, Command: command, Err: err}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// stdioPipe combines a stdin (writer) and stdout (reader) into an io.ReadWriteCloser.
type stdioPipe struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p stdioPipe) Close() error {
	_ = p.stdin.Close()
	return p.stdout.Close()
}

// lineLogger logs each complete line written to it.
type lineLogger struct {
	logger *slog.Logger
	msg    string

	mu  sync.Mutex
	buf []byte
}

func (w *lineLogger) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:i], "\r")
		if len(line) > 0 {
			w.logger.Debug(w.msg, "line", string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}
