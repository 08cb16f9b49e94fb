package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
)

// DiscoverOptions controls how many matches Discover returns.
// With All set every match is returned in registry order. Otherwise a
// uniform random sample without replacement of HowMany matches is taken;
// HowMany <= 0 means one.
type DiscoverOptions struct {
	HowMany int
	All     bool
}

// RegistryClient wraps a Registry backend with the discovery protocol's
// error semantics and selection policy. Every call is one synchronous round
// trip; there is no retry.
type RegistryClient struct {
	backend   Registry
	logger    Logger
	telemetry Telemetry
	shuffle   func(n int, swap func(i, j int))
}

// NewRegistryClient creates a client over backend. A nil logger disables logging.
func NewRegistryClient(backend Registry, logger Logger) *RegistryClient {
	return &RegistryClient{
		backend:   backend,
		logger:    componentLogger(logger, "framework/registry"),
		telemetry: &NoOpTelemetry{},
		shuffle:   rand.Shuffle,
	}
}

// SetTelemetry enables spans around registry calls.
func (c *RegistryClient) SetTelemetry(t Telemetry) {
	if t != nil {
		c.telemetry = t
	}
}

// Backend returns the underlying registry.
func (c *RegistryClient) Backend() Registry {
	return c.backend
}

// Register records info and returns the identity assigned by the registry.
// Any failure is a registration error; callers run in degraded mode.
func (c *RegistryClient) Register(ctx context.Context, info *AgentInfo) (string, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "registry.register")
	defer span.End()

	id, err := c.backend.Register(ctx, info)
	if err != nil {
		span.RecordError(err)
		name := ""
		if info != nil {
			name = info.Name
		}
		return "", &FrameworkError{
			Op:      "registry.Register",
			Kind:    KindRegistration,
			ID:      name,
			Message: "registration failed",
			Err:     fmt.Errorf("%w: %w", ErrRegistrationFailed, err),
		}
	}

	span.SetAttribute("agent.id", id)
	c.logger.Info("Agent registered", map[string]interface{}{
		"agent_id":     id,
		"agent_name":   info.Name,
		"capabilities": info.Capabilities,
	})
	return id, nil
}

// Withdraw removes id from the registry. An empty id is a no-op with a
// warning. Withdrawing an id the registry no longer knows returns an error
// satisfying IsNotFound.
func (c *RegistryClient) Withdraw(ctx context.Context, id string) error {
	if id == "" {
		c.logger.Warn("Agent not registered, nothing to withdraw", nil)
		return nil
	}

	ctx, span := c.telemetry.StartSpan(ctx, "registry.withdraw")
	defer span.End()
	span.SetAttribute("agent.id", id)

	if err := c.backend.Withdraw(ctx, id); err != nil {
		span.RecordError(err)
		if IsNotFound(err) {
			c.logger.Warn("Agent already withdrawn", map[string]interface{}{
				"agent_id": id,
			})
		} else {
			c.logger.Error("Withdraw failed", map[string]interface{}{
				"agent_id": id,
				"error":    err.Error(),
			})
		}
		return &FrameworkError{Op: "registry.Withdraw", Kind: KindRegistration, ID: id, Err: err}
	}

	c.logger.Info("Agent withdrawn", map[string]interface{}{"agent_id": id})
	return nil
}

// Discover returns agents whose capabilities contain capability, selected per
// opts. No match is an ErrNoAgentsAvailable discovery error.
func (c *RegistryClient) Discover(ctx context.Context, capability string, opts DiscoverOptions) ([]*AgentRef, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "registry.discover")
	defer span.End()
	span.SetAttribute("capability", capability)

	matches, err := c.backend.Discover(ctx, capability)
	if err != nil {
		span.RecordError(err)
		return nil, &FrameworkError{Op: "registry.Discover", Kind: KindDiscovery, ID: capability, Err: err}
	}
	if len(matches) == 0 {
		err := &FrameworkError{
			Op:      "registry.Discover",
			Kind:    KindDiscovery,
			ID:      capability,
			Message: fmt.Sprintf("no agents available for capability %q", capability),
			Err:     ErrNoAgentsAvailable,
		}
		span.RecordError(err)
		return nil, err
	}

	selected := c.selectAgents(matches, opts)
	span.SetAttribute("agents.matched", len(matches))
	span.SetAttribute("agents.selected", len(selected))
	c.logger.Debug("Agents discovered", map[string]interface{}{
		"capability": capability,
		"matched":    len(matches),
		"selected":   len(selected),
	})
	return selected, nil
}

// FetchAll returns the full registry snapshot.
func (c *RegistryClient) FetchAll(ctx context.Context) ([]*AgentRef, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "registry.fetch_all")
	defer span.End()

	refs, err := c.backend.FetchAll(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, &FrameworkError{Op: "registry.FetchAll", Kind: KindDiscovery, Err: err}
	}
	if refs == nil {
		refs = []*AgentRef{}
	}
	return refs, nil
}

// Close closes the backend.
func (c *RegistryClient) Close() error {
	return c.backend.Close()
}

func (c *RegistryClient) selectAgents(matches []*AgentRef, opts DiscoverOptions) []*AgentRef {
	if opts.All {
		return matches
	}
	n := opts.HowMany
	if n <= 0 {
		n = 1
	}
	if n > len(matches) {
		n = len(matches)
	}

	pool := append([]*AgentRef(nil), matches...)
	c.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:n]
}

// IsDiscoveryError reports whether err is a failed discovery.
func IsDiscoveryError(err error) bool {
	var fe *FrameworkError
	return errors.As(err, &fe) && fe.Kind == KindDiscovery
}
