package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	lspDomain "github.com/Strob0t/lsphost/internal/domain/lsp"
)

// NotificationHandler handles a notification sent by the server.
type NotificationHandler func(params json.RawMessage)

// RequestHandler handles a request sent by the server. The returned value is
// sent back as the result; a *ResponseError is sent back as the error object.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// pendingCall tracks one request awaiting its response.
type pendingCall struct {
	method string // expected response shape
	ch     chan *Message
}

// Transport is the duplex message channel to the server. It correlates
// responses to requests by id, routes notifications to handlers, and answers
// requests initiated by the server.
type Transport struct {
	conn   *Conn
	logger *slog.Logger

	nextID  atomic.Int64
	pending map[int64]*pendingCall
	pendMu  sync.Mutex

	handlerMu     sync.RWMutex
	notifications map[string]NotificationHandler
	requests      map[string]RequestHandler

	ctx     context.Context // canceled when the read loop exits
	cancel  context.CancelFunc
	done    chan struct{}   // closed when the read loop exits
	started atomic.Bool
	closing atomic.Bool
	stopped sync.Once // closes done when the loop never started

	errMu sync.Mutex
	err   error
}

// NewTransport wraps rwc in a Transport. Handlers should be registered before Start.
func NewTransport(rwc io.ReadWriteCloser, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		conn:          NewConn(rwc),
		logger:        logger,
		pending:       make(map[int64]*pendingCall),
		notifications: make(map[string]NotificationHandler),
		requests:      make(map[string]RequestHandler),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// HandleNotification registers fn for server notifications with the given method.
func (t *Transport) HandleNotification(method string, fn NotificationHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.notifications[method] = fn
}

// HandleRequest registers fn for server requests with the given method.
func (t *Transport) HandleRequest(method string, fn RequestHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.requests[method] = fn
}

// Start launches the receive loop. It runs until the stream closes or fails.
func (t *Transport) Start() {
	if t.closing.Load() {
		return
	}
	if t.started.CompareAndSwap(false, true) {
		go t.readLoop()
	}
}

// Done is closed once the receive loop has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that ended the receive loop, or nil while it runs.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Pending returns the number of requests awaiting a response.
func (t *Transport) Pending() int {
	t.pendMu.Lock()
	defer t.pendMu.Unlock()
	return len(t.pending)
}

// Call sends a request and waits for its response, ctx expiry, or transport
// closure. The response result is decoded into result when result is non-nil.
func (t *Transport) Call(ctx context.Context, method string, params, result any) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	id := t.nextID.Add(1)
	call := &pendingCall{method: method, ch: make(chan *Message, 1)}

	t.pendMu.Lock()
	t.pending[id] = call
	t.pendMu.Unlock()

	defer func() {
		t.pendMu.Lock()
		delete(t.pending, id)
		t.pendMu.Unlock()
	}()

	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	msg := &Message{ID: json.RawMessage(strconv.FormatInt(id, 10)), Method: method, Params: raw}
	if err := t.write(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-call.ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-t.done:
		return fmt.Errorf("%s: %w", method, t.Err())
	}
}

// Notify sends a notification. It fails with a closed TransportError once the
// transport has been closed or the stream has ended.
func (t *Transport) Notify(method string, params any) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	if err := t.conn.Write(&Message{Method: method, Params: raw}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// Close closes the stream and waits for the receive loop to exit.
// Pending calls are resolved with a closed TransportError.
func (t *Transport) Close() error {
	t.closing.Store(true)
	err := t.conn.Close()
	if t.started.Load() {
		<-t.done
		return err
	}
	t.stopped.Do(func() {
		t.finish(closedError(errors.New("transport closed before start")))
		close(t.done)
	})
	return err
}

// write sends msg unless ctx expires first. A write still blocked at that
// point leaves a partial frame behind, so the stream is closed to release it.
func (t *Transport) write(ctx context.Context, msg *Message) error {
	if ctx.Done() == nil {
		return t.conn.Write(msg)
	}
	errc := make(chan error, 1)
	go func() { errc <- t.conn.Write(msg) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		_ = t.conn.Close()
		<-errc
		return ctx.Err()
	}
}

func (t *Transport) checkOpen() error {
	select {
	case <-t.done:
		return t.Err()
	default:
	}
	if t.closing.Load() {
		return closedError(errors.New("transport is closing"))
	}
	return nil
}

// readLoop continuously reads messages from the server.
func (t *Transport) readLoop() {
	defer close(t.done)

	for {
		msg, err := t.conn.Read()
		if err != nil {
			var terr *lspDomain.TransportError
			if t.closing.Load() && (!errors.As(err, &terr) || terr.Reason == lspDomain.TransportClosed) {
				err = closedError(errors.New("transport closed by client"))
			}
			t.finish(err)
			return
		}

		switch {
		case msg.IsResponse():
			t.dispatchResponse(msg)
		case msg.IsRequest():
			t.dispatchRequest(msg)
		case msg.Method == "":
			// Error without an id, e.g. the server could not parse a request.
			t.logger.Warn("lsp error response without id dropped", "error", msg.Error)
		default:
			t.dispatchNotification(msg)
		}
	}
}

// finish records the terminal error, closes the stream and drops pending calls.
// Callers blocked in Call observe Done and return the recorded error.
func (t *Transport) finish(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()

	t.cancel()
	_ = t.conn.Close()

	t.pendMu.Lock()
	dropped := make([]string, 0, len(t.pending))
	for _, call := range t.pending {
		dropped = append(dropped, call.method)
	}
	clear(t.pending)
	t.pendMu.Unlock()

	if errors.Is(err, lspDomain.ErrProtocol) {
		t.logger.Error("lsp transport desynchronized", "error", err, "dropped", dropped)
		return
	}
	t.logger.Debug("lsp transport closed", "error", err, "dropped", dropped)
}

func (t *Transport) dispatchResponse(msg *Message) {
	id, ok := parseID(msg.ID)
	if !ok {
		t.logger.Warn("lsp response with foreign id dropped", "id", string(msg.ID))
		return
	}

	t.pendMu.Lock()
	call, found := t.pending[id]
	delete(t.pending, id)
	t.pendMu.Unlock()

	if !found {
		t.logger.Debug("lsp response without pending request", "id", id)
		return
	}
	call.ch <- msg
}

func (t *Transport) dispatchNotification(msg *Message) {
	t.handlerMu.RLock()
	fn := t.notifications[msg.Method]
	t.handlerMu.RUnlock()

	if fn == nil {
		t.logger.Debug("lsp notification ignored", "method", msg.Method)
		return
	}
	fn(msg.Params)
}

func (t *Transport) dispatchRequest(msg *Message) {
	t.handlerMu.RLock()
	fn := t.requests[msg.Method]
	t.handlerMu.RUnlock()

	reply := &Message{ID: msg.ID}
	if fn == nil {
		reply.Error = &ResponseError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	} else {
		result, err := fn(t.ctx, msg.Params)
		if err != nil {
			var rerr *ResponseError
			if !errors.As(err, &rerr) {
				rerr = &ResponseError{Code: CodeInternalError, Message: err.Error()}
			}
			reply.Error = rerr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				reply.Error = &ResponseError{Code: CodeInternalError, Message: err.Error()}
			} else {
				reply.Result = raw
			}
		}
	}

	if err := t.conn.Write(reply); err != nil {
		t.logger.Warn("lsp reply failed", "method", msg.Method, "error", err)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// parseID decodes a numeric id, also accepting a numeric string.
func parseID(raw json.RawMessage) (int64, bool) {
	if id, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return id, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}
