package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisTransport delivers envelopes over Redis pub/sub. Each agent listens on
// the channel <ns>:queue:<agentID>. Pub/sub does not buffer, so an envelope
// published while nobody listens is reported as ErrNoRecipient and lost.
type RedisTransport struct {
	client     *redis.Client
	namespace  string
	codec      Codec
	logger     Logger
	ownsClient bool

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

type redisSubscription struct {
	sub    *Subscription
	pubsub *redis.PubSub
}

// NewRedisTransport connects to redisURL. A nil codec selects JSON.
func NewRedisTransport(redisURL, namespace string, codec Codec, logger Logger) (*RedisTransport, error) {
	client, err := newRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	t := NewRedisTransportWithClient(client, namespace, codec, logger)
	t.ownsClient = true
	return t, nil
}

// NewRedisTransportWithClient wraps an existing client. Close leaves the client open.
func NewRedisTransportWithClient(client *redis.Client, namespace string, codec Codec, logger Logger) *RedisTransport {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RedisTransport{
		client:    client,
		namespace: namespace,
		codec:     codec,
		logger:    componentLogger(logger, "framework/transport"),
		subs:      make(map[string]*redisSubscription),
	}
}

// Channel returns the pub/sub channel for agentID.
func (t *RedisTransport) Channel(agentID string) string {
	return fmt.Sprintf("%s:queue:%s", t.namespace, agentID)
}

// Setup subscribes to agentID's channel and waits for the server to confirm.
func (t *RedisTransport) Setup(ctx context.Context, agentID string) (*Subscription, error) {
	if agentID == "" {
		return nil, fmt.Errorf("empty agent id: %w", ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.subs[agentID]; ok {
		return existing.sub, nil
	}

	channel := t.Channel(agentID)
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &FrameworkError{
			Op:   "redis.Setup",
			Kind: KindTransport,
			ID:   agentID,
			Err:  fmt.Errorf("subscribe %s: %v: %w", channel, err, ErrConnectionFailed),
		}
	}

	rs := &redisSubscription{sub: NewSubscription(agentID, channel), pubsub: pubsub}
	t.subs[agentID] = rs

	t.logger.Debug("Subscribed", map[string]interface{}{
		"agent_id": agentID,
		"channel":  channel,
	})
	return rs.sub, nil
}

// Listen consumes the subscription's channel from a single goroutine until
// the subscription is deleted or ctx is done.
func (t *RedisTransport) Listen(ctx context.Context, sub *Subscription, handlers EnvelopeHandlers) error {
	if sub == nil {
		return fmt.Errorf("nil subscription: %w", ErrInvalidArgument)
	}
	t.mu.Lock()
	rs, ok := t.subs[sub.AgentID]
	t.mu.Unlock()
	if !ok || rs.sub != sub {
		return fmt.Errorf("channel %s: %w", sub.Queue, ErrSubscriptionClosed)
	}

	messages := rs.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			env, ok := DecodeFrame(t.codec, []byte(msg.Payload), t.logger, msg.Channel)
			if !ok {
				continue
			}
			RouteEnvelope(ctx, env, handlers, t.logger)
		}
	}
}

// Publish sends env to the channel of header.to_uuid.
func (t *RedisTransport) Publish(ctx context.Context, env *Envelope) PublishResult {
	data, err := EncodeForPublish(t.codec, env)
	if err != nil {
		return PublishFailed("redis.Publish", env, err)
	}

	receivers, err := t.client.Publish(ctx, t.Channel(env.Header.ToUUID), data).Result()
	if err != nil {
		t.logger.Error("Publish failed", map[string]interface{}{
			"to_uuid":    env.Header.ToUUID,
			"event_uuid": env.Header.EventUUID,
			"error":      err.Error(),
		})
		return PublishFailed("redis.Publish", env, fmt.Errorf("%v: %w", err, ErrPublishFailed))
	}
	if receivers == 0 {
		return PublishFailed("redis.Publish", env, fmt.Errorf("nobody listens on %s: %w", t.Channel(env.Header.ToUUID), ErrNoRecipient))
	}
	return Published()
}

// DeleteSubscription unsubscribes agentID. Unknown ids are ignored.
func (t *RedisTransport) DeleteSubscription(ctx context.Context, agentID string) error {
	t.mu.Lock()
	rs, ok := t.subs[agentID]
	delete(t.subs, agentID)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	rs.sub.Close()
	if err := rs.pubsub.Close(); err != nil {
		return &FrameworkError{Op: "redis.DeleteSubscription", Kind: KindTransport, ID: agentID, Err: err}
	}
	return nil
}

// Close deletes every subscription and releases the client when owned.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]*redisSubscription)
	t.mu.Unlock()

	for _, rs := range subs {
		rs.sub.Close()
		_ = rs.pubsub.Close()
	}
	if t.ownsClient {
		return t.client.Close()
	}
	return nil
}
