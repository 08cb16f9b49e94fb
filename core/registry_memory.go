package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryRegistry provides an in-memory Registry. It is used by tests and by
// development setups that run every agent in one process.
type MemoryRegistry struct {
	mu            sync.RWMutex
	records       map[string]*memoryRecord
	order         []string // registration order
	caseSensitive bool
}

type memoryRecord struct {
	ref          AgentRef
	info         AgentInfo
	capabilities string // serialized form used for matching
}

// NewMemoryRegistry creates an empty in-memory registry with case-insensitive
// capability matching.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]*memoryRecord)}
}

// SetCaseSensitive switches capability matching to exact case.
func (m *MemoryRegistry) SetCaseSensitive(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caseSensitive = enabled
}

// Register stores info under a freshly generated id (implements Registry interface)
func (m *MemoryRegistry) Register(ctx context.Context, info *AgentInfo) (string, error) {
	if info == nil {
		return "", fmt.Errorf("nil agent info: %w", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	caps := append([]string(nil), info.Capabilities...)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[id] = &memoryRecord{
		ref:          AgentRef{UUID: id, Name: info.Name, Capabilities: caps},
		info:         *info,
		capabilities: SerializeCapabilities(caps),
	}
	m.order = append(m.order, id)
	return id, nil
}

// Withdraw removes a record (implements Registry interface)
func (m *MemoryRegistry) Withdraw(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		return fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	delete(m.records, id)
	m.order = removeString(m.order, id)
	return nil
}

// Discover returns the agents whose serialized capabilities contain capability,
// in registration order (implements Registry interface)
func (m *MemoryRegistry) Discover(ctx context.Context, capability string) ([]*AgentRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*AgentRef, 0)
	for _, id := range m.order {
		rec := m.records[id]
		if MatchCapability(rec.capabilities, capability, m.caseSensitive) {
			ref := rec.ref
			results = append(results, &ref)
		}
	}
	return results, nil
}

// FetchAll returns every registered agent in registration order (implements Registry interface)
func (m *MemoryRegistry) FetchAll(ctx context.Context) ([]*AgentRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*AgentRef, 0, len(m.order))
	for _, id := range m.order {
		ref := m.records[id].ref
		results = append(results, &ref)
	}
	return results, nil
}

// Lookup returns the full self-description registered under id.
func (m *MemoryRegistry) Lookup(id string) (AgentInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return AgentInfo{}, false
	}
	return rec.info, true
}

// Close is a no-op (implements Registry interface)
func (m *MemoryRegistry) Close() error {
	return nil
}

func removeString(slice []string, item string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != item {
			result = append(result, s)
		}
	}
	return result
}
