package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// redisAgentRecord is the JSON document stored per agent.
type redisAgentRecord struct {
	UUID          string                 `json:"uuid"`
	Name          string                 `json:"name"`
	Capabilities  string                 `json:"capabilities"` // serialized, see SerializeCapabilities
	Description   string                 `json:"description,omitempty"`
	RequestSchema map[string]interface{} `json:"request_schema,omitempty"`
	RegisteredAt  int64                  `json:"registered_at"`
}

func (r *redisAgentRecord) ref() *AgentRef {
	return &AgentRef{UUID: r.UUID, Name: r.Name, Capabilities: ParseCapabilities(r.Capabilities)}
}

// RedisRegistry provides Redis-based agent registration (implements Registry interface).
//
// Layout:
//
//	<ns>:agents:<id>     JSON record
//	<ns>:agents:index    sorted set of ids scored by registration time (µs)
type RedisRegistry struct {
	client        *redis.Client
	namespace     string
	caseSensitive bool
	ownsClient    bool
	logger        Logger
}

// NewRedisRegistry connects to redisURL and returns a registry using namespace
// as key prefix.
func NewRedisRegistry(redisURL, namespace string) (*RedisRegistry, error) {
	client, err := newRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	r := NewRedisRegistryWithClient(client, namespace)
	r.ownsClient = true
	return r, nil
}

// NewRedisRegistryWithClient wraps an existing client. Close leaves the client open.
func NewRedisRegistryWithClient(client *redis.Client, namespace string) *RedisRegistry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisRegistry{
		client:    client,
		namespace: namespace,
		logger:    &NoOpLogger{},
	}
}

// SetLogger sets the logger for the registry client
func (r *RedisRegistry) SetLogger(logger Logger) {
	r.logger = componentLogger(logger, "framework/registry")
}

// SetCaseSensitive switches capability matching to exact case.
func (r *RedisRegistry) SetCaseSensitive(enabled bool) {
	r.caseSensitive = enabled
}

func (r *RedisRegistry) recordKey(id string) string {
	return fmt.Sprintf("%s:agents:%s", r.namespace, id)
}

func (r *RedisRegistry) indexKey() string {
	return r.namespace + ":agents:index"
}

// Register stores info under a new id (implements Registry interface)
func (r *RedisRegistry) Register(ctx context.Context, info *AgentInfo) (string, error) {
	if info == nil {
		return "", fmt.Errorf("nil agent info: %w", ErrInvalidArgument)
	}

	now := Now().Int64()
	record := redisAgentRecord{
		UUID:          uuid.New().String(),
		Name:          info.Name,
		Capabilities:  SerializeCapabilities(info.Capabilities),
		Description:   info.Description,
		RequestSchema: info.RequestSchema,
		RegisteredAt:  now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent record for %s: %w", info.Name, err)
	}

	// Record and index are written atomically.
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(record.UUID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), &redis.Z{Score: float64(now), Member: record.UUID})
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to register agent atomically", map[string]interface{}{
			"error":      err,
			"error_type": fmt.Sprintf("%T", err),
			"agent_name": info.Name,
		})
		return "", fmt.Errorf("failed to register agent atomically: %v: %w", err, ErrConnectionFailed)
	}

	r.logger.Debug("Agent record stored", map[string]interface{}{
		"agent_id":     record.UUID,
		"agent_name":   record.Name,
		"capabilities": record.Capabilities,
	})
	return record.UUID, nil
}

// Withdraw deletes a record (implements Registry interface)
func (r *RedisRegistry) Withdraw(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.recordKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to withdraw agent %s: %v: %w", id, err, ErrConnectionFailed)
	}
	if del.Val() == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	return nil
}

// Discover scans the index in registration order and returns every record
// whose serialized capabilities contain capability (implements Registry interface)
func (r *RedisRegistry) Discover(ctx context.Context, capability string) ([]*AgentRef, error) {
	records, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*AgentRef, 0)
	for _, rec := range records {
		if MatchCapability(rec.Capabilities, capability, r.caseSensitive) {
			results = append(results, rec.ref())
		}
	}
	return results, nil
}

// FetchAll returns every record in registration order (implements Registry interface)
func (r *RedisRegistry) FetchAll(ctx context.Context) ([]*AgentRef, error) {
	records, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]*AgentRef, 0, len(records))
	for _, rec := range records {
		results = append(results, rec.ref())
	}
	return results, nil
}

func (r *RedisRegistry) load(ctx context.Context) ([]*redisAgentRecord, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent index: %v: %w", err, ErrConnectionFailed)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent records: %v: %w", err, ErrConnectionFailed)
	}

	records := make([]*redisAgentRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a record; a concurrent withdraw removed it.
			continue
		}
		var rec redisAgentRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			r.logger.Warn("Skipping unreadable agent record", map[string]interface{}{
				"agent_id": ids[i],
				"error":    err.Error(),
			})
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Count returns the number of registered agents.
func (r *RedisRegistry) Count(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.indexKey()).Result()
}

// Close releases the connection pool when the registry created it (implements Registry interface)
func (r *RedisRegistry) Close() error {
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}

// newRedisClient parses redisURL and applies connection settings. The client
// dials lazily, so an unreachable server surfaces on the first command.
// Commands are not retried: callers bound them with their own ctx.
func newRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %q: %w", redisURL, ErrInvalidConfiguration)
	}

	opt.PoolSize = 10
	opt.MaxRetries = -1
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second
	opt.PoolTimeout = 10 * time.Second

	return redis.NewClient(opt), nil
}
