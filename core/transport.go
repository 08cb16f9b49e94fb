package core

import (
	"context"
	"fmt"
	"sync"
)

// Subscription is the handle returned by Transport.Setup. It names the queue
// or channel an agent receives on and is closed when the subscription is
// deleted.
type Subscription struct {
	AgentID string
	Queue   string

	done chan struct{}
	once sync.Once
}

// NewSubscription creates an open subscription for agentID receiving on queue.
func NewSubscription(agentID, queue string) *Subscription {
	return &Subscription{AgentID: agentID, Queue: queue, done: make(chan struct{})}
}

// Done is closed once the subscription is deleted.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close marks the subscription deleted. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// EnvelopeHandler receives one inbound envelope.
type EnvelopeHandler func(ctx context.Context, env *Envelope)

// EnvelopeHandlers are the typed callbacks passed to Transport.Listen.
// A nil handler drops envelopes of its type.
type EnvelopeHandlers struct {
	OnRequest  EnvelopeHandler
	OnResponse EnvelopeHandler
	OnControl  EnvelopeHandler
}

// PublishResult reports the outcome of Transport.Publish. Failures are never
// retried by the transport.
type PublishResult struct {
	Success bool
	Error   error
}

// Published is the successful PublishResult.
func Published() PublishResult {
	return PublishResult{Success: true}
}

// PublishFailed wraps err as a transport error result.
func PublishFailed(op string, env *Envelope, err error) PublishResult {
	fe := &FrameworkError{Op: op, Kind: KindTransport, Err: err}
	if env != nil {
		fe.ID = env.Header.ToUUID
	}
	return PublishResult{Success: false, Error: fe}
}

// RouteEnvelope classifies env by header type and invokes the matching
// handler. Envelopes of an unknown type are logged and dropped.
func RouteEnvelope(ctx context.Context, env *Envelope, handlers EnvelopeHandlers, logger Logger) {
	if env == nil {
		return
	}
	var h EnvelopeHandler
	switch env.Header.Type {
	case MessageTypeRequest:
		h = handlers.OnRequest
	case MessageTypeResponse:
		h = handlers.OnResponse
	case MessageTypeControl:
		h = handlers.OnControl
	default:
		if logger != nil {
			logger.Warn("Dropping envelope with unknown type", map[string]interface{}{
				"type":       string(env.Header.Type),
				"event_uuid": env.Header.EventUUID,
				"from_uuid":  env.Header.FromUUID,
			})
		}
		return
	}
	if h != nil {
		h(ctx, env)
	}
}

// DecodeFrame decodes one inbound frame, logging and dropping undecodable ones.
// The boolean is false when the frame was dropped.
func DecodeFrame(codec Codec, data []byte, logger Logger, queue string) (*Envelope, bool) {
	env, err := codec.Unmarshal(data)
	if err != nil {
		logger.Warn("Dropping undecodable frame", map[string]interface{}{
			"queue": queue,
			"codec": codec.Name(),
			"size":  len(data),
			"error": err.Error(),
		})
		return nil, false
	}
	return env, true
}

// EncodeForPublish validates env and encodes it with codec. Transport
// bindings call it before handing the bytes to their broker.
func EncodeForPublish(codec Codec, env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope: %w", ErrInvalidEnvelope)
	}
	if env.Header.ToUUID == "" {
		return nil, ErrNoRecipient
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(env)
}
