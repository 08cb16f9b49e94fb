package socket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/itsneelabh/agentrelay/core"
)

// Transport is a core.Transport over one WebSocket connection to a Hub.
// Every agent of the process shares the connection; Setup binds an agent id
// and Listen consumes the envelopes the hub delivers for it.
type Transport struct {
	conn   *websocket.Conn
	codec  core.Codec
	logger core.Logger

	writeMu sync.Mutex
	seq     uint64

	mu      sync.Mutex
	pending map[uint64]chan Frame
	subs    map[string]*socketSubscription

	queueSize   int
	callTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

type socketSubscription struct {
	sub    *core.Subscription
	frames chan []byte
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

type dialOptions struct {
	codec       core.Codec
	logger      core.Logger
	header      http.Header
	dialer      *websocket.Dialer
	queueSize   int
	callTimeout time.Duration
}

// WithCodec selects the envelope codec. JSON is the default.
func WithCodec(codec core.Codec) DialOption {
	return func(o *dialOptions) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithLogger sets the logger, tagged "framework/transport".
func WithLogger(logger core.Logger) DialOption {
	return func(o *dialOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) DialOption {
	return func(o *dialOptions) { o.header = h }
}

// WithCallTimeout bounds how long a frame waits for the hub's answer.
func WithCallTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithBuffer sets the per-agent inbound buffer.
func WithBuffer(n int) DialOption {
	return func(o *dialOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// Dial connects to the hub at url, e.g. ws://localhost:8090/ws.
func Dial(ctx context.Context, url string, opts ...DialOption) (*Transport, error) {
	o := dialOptions{
		codec:       core.JSONCodec{},
		logger:      &core.NoOpLogger{},
		dialer:      websocket.DefaultDialer,
		queueSize:   core.DefaultQueueSize,
		callTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, resp, err := o.dialer.DialContext(ctx, url, o.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &core.FrameworkError{
			Op:   "socket.Dial",
			Kind: core.KindTransport,
			ID:   url,
			Err:  fmt.Errorf("%v: %w", err, core.ErrConnectionFailed),
		}
	}

	logger := o.logger
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("framework/transport")
	}

	t := &Transport{
		conn:        conn,
		codec:       o.codec,
		logger:      logger,
		pending:     make(map[uint64]chan Frame),
		subs:        make(map[string]*socketSubscription),
		queueSize:   o.queueSize,
		callTimeout: o.callTimeout,
		done:        make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go t.readLoop()

	logger.Info("Connected to hub", map[string]interface{}{
		"url":   url,
		"codec": o.codec.Name(),
	})
	return t, nil
}

// Setup binds agentID on the hub. Calling it again for a live binding returns
// the existing subscription.
func (t *Transport) Setup(ctx context.Context, agentID string) (*core.Subscription, error) {
	if agentID == "" {
		return nil, fmt.Errorf("empty agent id: %w", core.ErrInvalidArgument)
	}

	t.mu.Lock()
	if s, ok := t.subs[agentID]; ok {
		t.mu.Unlock()
		return s.sub, nil
	}
	s := &socketSubscription{
		sub:    core.NewSubscription(agentID, agentID),
		frames: make(chan []byte, t.queueSize),
	}
	t.subs[agentID] = s
	t.mu.Unlock()

	if _, err := t.call(ctx, Frame{Op: OpBind, AgentID: agentID}); err != nil {
		t.mu.Lock()
		delete(t.subs, agentID)
		t.mu.Unlock()
		return nil, &core.FrameworkError{Op: "socket.Setup", Kind: core.KindTransport, ID: agentID, Err: err}
	}

	t.logger.Debug("Agent bound", map[string]interface{}{"agent_id": agentID})
	return s.sub, nil
}

// Listen routes delivered envelopes until the subscription is deleted, ctx is
// done or the connection drops. A dropped connection is reported as
// ErrConnectionFailed.
func (t *Transport) Listen(ctx context.Context, sub *core.Subscription, handlers core.EnvelopeHandlers) error {
	if sub == nil {
		return fmt.Errorf("nil subscription: %w", core.ErrInvalidArgument)
	}
	t.mu.Lock()
	s, ok := t.subs[sub.AgentID]
	t.mu.Unlock()
	if !ok || s.sub != sub {
		return fmt.Errorf("binding %s: %w", sub.Queue, core.ErrSubscriptionClosed)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case <-t.done:
			if sub.Closed() {
				return nil
			}
			return t.connErr()
		case data := <-s.frames:
			env, ok := core.DecodeFrame(t.codec, data, t.logger, sub.Queue)
			if !ok {
				continue
			}
			core.RouteEnvelope(ctx, env, handlers, t.logger)
		}
	}
}

// Publish hands env to the hub for the agent bound as header.to_uuid.
func (t *Transport) Publish(ctx context.Context, env *core.Envelope) core.PublishResult {
	if t.isClosed() {
		return core.PublishFailed("socket.Publish", env, core.ErrTransportClosed)
	}
	data, err := core.EncodeForPublish(t.codec, env)
	if err != nil {
		return core.PublishFailed("socket.Publish", env, err)
	}
	if _, err := t.call(ctx, Frame{Op: OpPublish, To: env.Header.ToUUID, Envelope: data}); err != nil {
		return core.PublishFailed("socket.Publish", env, err)
	}
	return core.Published()
}

// DeleteSubscription releases agentID's binding. Unknown ids are ignored.
func (t *Transport) DeleteSubscription(ctx context.Context, agentID string) error {
	t.mu.Lock()
	s, ok := t.subs[agentID]
	delete(t.subs, agentID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	s.sub.Close()

	if t.isClosed() {
		return nil
	}
	if _, err := t.call(ctx, Frame{Op: OpUnbind, AgentID: agentID}); err != nil {
		return &core.FrameworkError{Op: "socket.DeleteSubscription", Kind: core.KindTransport, ID: agentID, Err: err}
	}
	return nil
}

// Close closes every subscription and the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	for id, s := range t.subs {
		s.sub.Close()
		delete(t.subs, id)
	}
	t.mu.Unlock()

	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	<-t.done
	return err
}

// call writes f with a fresh sequence number and waits for the hub's ack.
func (t *Transport) call(ctx context.Context, f Frame) (Frame, error) {
	reply := make(chan Frame, 1)

	t.mu.Lock()
	t.seq++
	f.Seq = t.seq
	t.pending[f.Seq] = reply
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, f.Seq)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := t.conn.WriteJSON(f)
	t.writeMu.Unlock()
	if err != nil {
		return Frame{}, fmt.Errorf("write %s: %v: %w", f.Op, err, core.ErrConnectionFailed)
	}

	timer := time.NewTimer(t.callTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		if r.Op == OpError {
			return r, codeError(r)
		}
		return r, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-timer.C:
		return Frame{}, fmt.Errorf("%s: no answer from hub after %s: %w", f.Op, t.callTimeout, core.ErrPublishFailed)
	case <-t.done:
		return Frame{}, t.connErr()
	}
}

func (t *Transport) readLoop() {
	defer close(t.done)

	for {
		var f Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			t.mu.Lock()
			t.readErr = err
			t.mu.Unlock()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("Hub connection lost", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		switch f.Op {
		case OpAck, OpError:
			t.mu.Lock()
			reply, ok := t.pending[f.Seq]
			t.mu.Unlock()
			if ok {
				reply <- f
			}
		case OpDeliver:
			t.deliver(f)
		default:
			t.logger.Warn("Ignoring unknown frame", map[string]interface{}{"op": f.Op})
		}
	}
}

func (t *Transport) deliver(f Frame) {
	t.mu.Lock()
	s, ok := t.subs[f.AgentID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("Delivery for unbound agent dropped", map[string]interface{}{"agent_id": f.AgentID})
		return
	}
	select {
	case s.frames <- f.Envelope:
	default:
		t.logger.Warn("Inbound buffer full, dropping envelope", map[string]interface{}{"agent_id": f.AgentID})
	}
}

func (t *Transport) connErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return fmt.Errorf("hub connection: %v: %w", t.readErr, core.ErrConnectionFailed)
	}
	return core.ErrConnectionFailed
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func codeError(f Frame) error {
	switch f.Code {
	case CodeNoRecipient:
		return fmt.Errorf("%s: %w", f.Error, core.ErrNoRecipient)
	case CodeQueueFull:
		return fmt.Errorf("%s: %w", f.Error, core.ErrPublishFailed)
	case CodeBadFrame, CodeUnknownOp:
		return fmt.Errorf("%s: %w", f.Error, core.ErrInvalidArgument)
	default:
		return fmt.Errorf("%s: %w", f.Error, core.ErrConnectionFailed)
	}
}

var _ core.Transport = (*Transport)(nil)
