package core

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Transport shared by every agent of a process.
// Each agent owns one buffered queue drained by the single goroutine running
// Listen, so an agent handles at most one envelope at a time. Envelopes are
// encoded with the configured codec on publish, so handlers receive the same
// value shapes as over a network transport.
type MemoryBus struct {
	mu        sync.RWMutex
	queues    map[string]*memoryQueue
	codec     Codec
	queueSize int
	logger    Logger
	closed    chan struct{}
	closeOnce sync.Once
}

type memoryQueue struct {
	sub    *Subscription
	frames chan []byte
}

// NewMemoryBus creates a bus. A nil codec selects JSON and a queueSize <= 0
// selects DefaultQueueSize.
func NewMemoryBus(codec Codec, queueSize int, logger Logger) *MemoryBus {
	if codec == nil {
		codec = JSONCodec{}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &MemoryBus{
		queues:    make(map[string]*memoryQueue),
		codec:     codec,
		queueSize: queueSize,
		logger:    componentLogger(logger, "framework/transport"),
		closed:    make(chan struct{}),
	}
}

// Setup creates the queue for agentID. Calling it again for a live queue
// returns the existing subscription.
func (b *MemoryBus) Setup(ctx context.Context, agentID string) (*Subscription, error) {
	if agentID == "" {
		return nil, fmt.Errorf("empty agent id: %w", ErrInvalidArgument)
	}
	if b.isClosed() {
		return nil, ErrTransportClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[agentID]; ok {
		return q.sub, nil
	}
	q := &memoryQueue{
		sub:    NewSubscription(agentID, agentID),
		frames: make(chan []byte, b.queueSize),
	}
	b.queues[agentID] = q

	b.logger.Debug("Queue created", map[string]interface{}{"agent_id": agentID})
	return q.sub, nil
}

// Listen drains the subscription's queue until it is deleted, the bus is
// closed, or ctx is done.
func (b *MemoryBus) Listen(ctx context.Context, sub *Subscription, handlers EnvelopeHandlers) error {
	if sub == nil {
		return fmt.Errorf("nil subscription: %w", ErrInvalidArgument)
	}
	b.mu.RLock()
	q, ok := b.queues[sub.AgentID]
	b.mu.RUnlock()
	if !ok || q.sub != sub {
		return fmt.Errorf("queue %s: %w", sub.Queue, ErrSubscriptionClosed)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case <-b.closed:
			return nil
		case frame := <-q.frames:
			env, ok := DecodeFrame(b.codec, frame, b.logger, sub.Queue)
			if !ok {
				continue
			}
			RouteEnvelope(ctx, env, handlers, b.logger)
		}
	}
}

// Publish enqueues env on the queue of header.to_uuid without blocking.
func (b *MemoryBus) Publish(ctx context.Context, env *Envelope) PublishResult {
	if b.isClosed() {
		return PublishFailed("memory.Publish", env, ErrTransportClosed)
	}
	data, err := EncodeForPublish(b.codec, env)
	if err != nil {
		return PublishFailed("memory.Publish", env, err)
	}

	b.mu.RLock()
	q, ok := b.queues[env.Header.ToUUID]
	b.mu.RUnlock()
	if !ok {
		return PublishFailed("memory.Publish", env, fmt.Errorf("no queue for %s: %w", env.Header.ToUUID, ErrNoRecipient))
	}

	select {
	case q.frames <- data:
		return Published()
	case <-ctx.Done():
		return PublishFailed("memory.Publish", env, ctx.Err())
	default:
		return PublishFailed("memory.Publish", env, fmt.Errorf("queue %s is full: %w", env.Header.ToUUID, ErrPublishFailed))
	}
}

// DeleteSubscription removes agentID's queue. Unknown ids are ignored.
func (b *MemoryBus) DeleteSubscription(ctx context.Context, agentID string) error {
	b.mu.Lock()
	q, ok := b.queues[agentID]
	delete(b.queues, agentID)
	b.mu.Unlock()

	if ok {
		q.sub.Close()
		b.logger.Debug("Queue deleted", map[string]interface{}{
			"agent_id": agentID,
			"dropped":  len(q.frames),
		})
	}
	return nil
}

// Close stops every Listen loop and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		for id, q := range b.queues {
			q.sub.Close()
			delete(b.queues, id)
		}
		b.mu.Unlock()
	})
	return nil
}

// Pending returns the number of queued envelopes for agentID.
func (b *MemoryBus) Pending(agentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.queues[agentID]; ok {
		return len(q.frames)
	}
	return 0
}

func (b *MemoryBus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}
