package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// AgentRuntime owns an agent's identity and lifecycle: registration, the
// transport subscription, the paused flag, the config map and teardown.
// Behaviour comes from the Agent and the optional handler interfaces it
// implements; the runtime detects them by type assertion.
//
// State is guarded by mu because network transports deliver from their own
// goroutines. Envelope handling itself is serialized by the Dispatcher.
type AgentRuntime struct {
	agent     Agent
	info      AgentInfo
	schema    *RequestSchema
	registry  *RegistryClient
	transport Transport
	logger    Logger
	telemetry Telemetry
	exit      func(code int)

	mu        sync.RWMutex
	id        string
	queue     string
	state     AgentState
	paused    bool
	config    map[string]interface{}
	startedAt time.Time
	sub       *Subscription

	teardownMu   sync.Mutex
	teardownDone bool

	dispatcher *Dispatcher
}

// RuntimeOption configures an AgentRuntime.
type RuntimeOption func(*AgentRuntime)

// WithRuntimeLogger sets the logger. Component-aware loggers are tagged with
// "agent/<name>".
func WithRuntimeLogger(logger Logger) RuntimeOption {
	return func(rt *AgentRuntime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithRuntimeTelemetry enables spans around dispatch and registry calls.
func WithRuntimeTelemetry(t Telemetry) RuntimeOption {
	return func(rt *AgentRuntime) {
		if t != nil {
			rt.telemetry = t
		}
	}
}

// WithExitFunc replaces os.Exit, called with 0 after a shutdown action.
func WithExitFunc(exit func(code int)) RuntimeOption {
	return func(rt *AgentRuntime) {
		if exit != nil {
			rt.exit = exit
		}
	}
}

// WithInitialConfig seeds the config map reported by status.
func WithInitialConfig(cfg map[string]interface{}) RuntimeOption {
	return func(rt *AgentRuntime) {
		rt.config = copyConfig(cfg)
	}
}

// NewAgentRuntime validates the agent's self-description and registers it.
//
// A missing name or capability set is a configuration error and the only
// error returned; callers should exit with ExitCodeConfiguration. A failed
// registration is logged and the runtime continues without an id, undiscoverable.
func NewAgentRuntime(ctx context.Context, agent Agent, registry *RegistryClient, transport Transport, opts ...RuntimeOption) (*AgentRuntime, error) {
	if agent == nil {
		return nil, &FrameworkError{Op: "NewAgentRuntime", Kind: KindConfiguration, Message: "agent is nil", Err: ErrMissingSelfDescription}
	}
	if registry == nil || transport == nil {
		return nil, &FrameworkError{Op: "NewAgentRuntime", Kind: KindConfiguration, Message: "registry and transport are required", Err: ErrMissingConfiguration}
	}

	info := agent.Info()
	if err := info.Validate(); err != nil {
		return nil, err
	}

	rt := &AgentRuntime{
		agent:     agent,
		info:      info,
		registry:  registry,
		transport: transport,
		logger:    &NoOpLogger{},
		telemetry: &NoOpTelemetry{},
		exit:      os.Exit,
		config:    map[string]interface{}{},
		state:     StateUnregistered,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = componentLogger(rt.logger, "agent/"+info.Name)

	if sp, ok := agent.(SchemaProvider); ok {
		rt.schema = sp.RequestSchema()
		if rt.info.RequestSchema == nil && rt.schema != nil {
			rt.info.RequestSchema = rt.schema.JSONSchema(info.Name)
		}
	}
	rt.dispatcher = newDispatcher(rt)

	rt.register(ctx)
	return rt, nil
}

// register performs Unregistered -> Registered. Failure leaves id empty.
func (rt *AgentRuntime) register(ctx context.Context) {
	id, err := rt.registry.Register(ctx, &rt.info)
	if err != nil {
		rt.logger.Error("Registration failed, running undiscoverable", map[string]interface{}{
			"agent_name": rt.info.Name,
			"error":      err.Error(),
		})
	}

	rt.mu.Lock()
	rt.id = id
	rt.transitionLocked(StateRegistered)
	rt.mu.Unlock()
}

// Run performs Registered -> Running: it sets up the subscription keyed by the
// agent id, runs the optional Initializer, then blocks in the receive loop.
// When the loop ends, for whatever reason, the agent is torn down.
func (rt *AgentRuntime) Run(ctx context.Context) error {
	rt.mu.Lock()
	switch {
	case rt.state == StateRegistered:
	case !rt.state.Live():
		rt.mu.Unlock()
		return ErrAlreadyTerminated
	default:
		rt.mu.Unlock()
		return ErrAlreadyRunning
	}
	queue := rt.id
	if queue == "" {
		queue = unregisteredQueuePrefix + uuid.New().String()[:8]
	}
	rt.queue = queue
	rt.mu.Unlock()

	defer func() {
		_ = rt.Teardown(context.WithoutCancel(ctx))
	}()

	sub, err := rt.transport.Setup(ctx, queue)
	if err != nil {
		rt.logger.Error("Subscription setup failed", map[string]interface{}{
			"queue": queue,
			"error": err.Error(),
		})
		return fmt.Errorf("setup subscription %s: %w", queue, err)
	}

	if init, ok := rt.agent.(Initializer); ok {
		if err := init.Init(ctx, rt); err != nil {
			rt.logger.Error("Agent initialization failed", map[string]interface{}{"error": err.Error()})
			return fmt.Errorf("initialize agent %s: %w", rt.info.Name, err)
		}
	}

	rt.mu.Lock()
	if !rt.transitionLocked(StateRunning) {
		rt.mu.Unlock()
		return nil
	}
	rt.sub = sub
	rt.startedAt = time.Now()
	rt.paused = false
	rt.mu.Unlock()

	rt.logger.Info("Agent running", map[string]interface{}{
		"agent_id":     rt.ID(),
		"queue":        queue,
		"capabilities": rt.info.Capabilities,
	})

	err = rt.transport.Listen(ctx, sub, rt.dispatcher.Handlers())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Teardown withdraws the agent from the registry and deletes its transport
// subscription. It runs once; later calls log a warning and return nil.
// An agent without an id skips the withdrawal with a warning.
func (rt *AgentRuntime) Teardown(ctx context.Context) error {
	rt.teardownMu.Lock()
	defer rt.teardownMu.Unlock()

	if rt.teardownDone {
		rt.logger.Warn("Teardown already completed", map[string]interface{}{"agent_name": rt.info.Name})
		return nil
	}
	rt.teardownDone = true

	rt.mu.Lock()
	rt.transitionLocked(StateShuttingDown)
	id := rt.id
	queue := rt.queue
	rt.mu.Unlock()

	var errs []error

	if id == "" {
		rt.logger.Warn("Agent has no registry id, skipping withdrawal", nil)
	} else if err := rt.registry.Withdraw(ctx, id); err != nil && !IsNotFound(err) {
		errs = append(errs, err)
	}

	rt.mu.Lock()
	rt.id = ""
	rt.mu.Unlock()

	if queue != "" {
		if err := rt.transport.DeleteSubscription(ctx, queue); err != nil {
			rt.logger.Error("Failed to delete subscription", map[string]interface{}{
				"queue": queue,
				"error": err.Error(),
			})
			errs = append(errs, err)
		}
	}

	rt.mu.Lock()
	rt.transitionLocked(StateTerminated)
	rt.paused = false
	rt.mu.Unlock()

	rt.logger.Info("Agent terminated", map[string]interface{}{"agent_name": rt.info.Name})
	return errors.Join(errs...)
}

// Shutdown tears the agent down and exits the process with status 0.
func (rt *AgentRuntime) Shutdown(ctx context.Context) {
	rt.logger.Info("Shutting down", map[string]interface{}{"agent_name": rt.info.Name})
	_ = rt.Teardown(ctx)
	rt.exit(ExitCodeOK)
}

// HandleSignals tears the agent down on SIGINT, SIGTERM or SIGQUIT and
// cancels the returned context so Run returns. Repeated signals are absorbed
// by the teardown guard. stop releases the signal handler.
func (rt *AgentRuntime) HandleSignals(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				rt.logger.Info("Received signal, tearing down", map[string]interface{}{"signal": sig.String()})
				_ = rt.Teardown(context.WithoutCancel(ctx))
				cancel()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
			cancel()
		})
	}
	return ctx, stop
}

// Send publishes env with this agent as sender.
func (rt *AgentRuntime) Send(ctx context.Context, env *Envelope) PublishResult {
	if env == nil {
		return PublishFailed("runtime.Send", nil, fmt.Errorf("nil envelope: %w", ErrInvalidEnvelope))
	}
	if env.Header.FromUUID == "" {
		env.Header.FromUUID = rt.Address()
	}
	if env.Header.Timestamp == 0 {
		env.Header.Timestamp = Now().Int64()
	}

	ctx, span := rt.telemetry.StartSpan(ctx, "agent.send")
	defer span.End()
	span.SetAttribute("envelope.type", string(env.Header.Type))
	span.SetAttribute("envelope.to", env.Header.ToUUID)

	result := rt.transport.Publish(ctx, env)
	if !result.Success {
		span.RecordError(result.Error)
		rt.telemetry.RecordMetric(MetricPublishFailures, 1, map[string]string{"type": string(env.Header.Type)})
		rt.logger.Error("Publish failed", map[string]interface{}{
			"to_uuid":    env.Header.ToUUID,
			"type":       string(env.Header.Type),
			"event_uuid": env.Header.EventUUID,
			"error":      fmt.Sprint(result.Error),
		})
	}
	return result
}

// Request sends a request envelope to the agent at to and returns it, so the
// caller can correlate the response by event uuid.
func (rt *AgentRuntime) Request(ctx context.Context, to string, payload map[string]interface{}) (*Envelope, PublishResult) {
	env := NewRequest(rt.Address(), to, payload)
	return env, rt.Send(ctx, env)
}

// Discover finds peers offering capability.
func (rt *AgentRuntime) Discover(ctx context.Context, capability string, opts DiscoverOptions) ([]*AgentRef, error) {
	return rt.registry.Discover(ctx, capability, opts)
}

// Field returns a payload field of env, falling back to the first example the
// request contract declares for it.
func (rt *AgentRuntime) Field(env *Envelope, field string) interface{} {
	if v := env.Get(field); v != nil {
		return v
	}
	return rt.schema.Default(field)
}

// ID returns the registry id, empty when unregistered or withdrawn.
func (rt *AgentRuntime) ID() string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.id
}

// Address is the queue peers must send to: the registry id, or the local
// queue name of an agent running without one.
func (rt *AgentRuntime) Address() string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.queue != "" {
		return rt.queue
	}
	return rt.id
}

func (rt *AgentRuntime) Name() string { return rt.info.Name }

// Capabilities returns a copy of the declared capabilities.
func (rt *AgentRuntime) Capabilities() []string {
	return append([]string(nil), rt.info.Capabilities...)
}

// Info returns the self-description as registered.
func (rt *AgentRuntime) Info() AgentInfo { return rt.info }

// Schema returns the request contract, nil when none is declared.
func (rt *AgentRuntime) Schema() *RequestSchema { return rt.schema }

// Logger returns the agent's component logger.
func (rt *AgentRuntime) Logger() Logger { return rt.logger }

// Registry returns the registry client.
func (rt *AgentRuntime) Registry() *RegistryClient { return rt.registry }

// Dispatcher returns the dispatcher fed by the receive loop.
func (rt *AgentRuntime) Dispatcher() *Dispatcher { return rt.dispatcher }

// State returns the current lifecycle state.
func (rt *AgentRuntime) State() AgentState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.state
}

// Paused reports whether request and response envelopes are being dropped.
func (rt *AgentRuntime) Paused() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.paused
}

// Config returns a copy of the config map.
func (rt *AgentRuntime) Config() map[string]interface{} {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return copyConfig(rt.config)
}

// Uptime is the time since the receive loop started, zero before that.
func (rt *AgentRuntime) Uptime() time.Duration {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.startedAt.IsZero() {
		return 0
	}
	return time.Since(rt.startedAt)
}

// setPaused toggles Running <-> Paused. It reports false when the agent is
// not in a state that allows the toggle. Repeating the current state is a no-op.
func (rt *AgentRuntime) setPaused(paused bool) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	next := StateRunning
	if paused {
		next = StatePaused
	}
	if rt.state == next {
		return true
	}
	// Registered -> Running belongs to Run, not to resume.
	if rt.state == StateRegistered || !rt.transitionLocked(next) {
		return false
	}
	rt.paused = paused
	return true
}

// transitionLocked moves to next when the lifecycle allows it. rt.mu must be held.
func (rt *AgentRuntime) transitionLocked(next AgentState) bool {
	if !rt.state.CanTransition(next) {
		return false
	}
	rt.state = next
	return true
}

// replaceConfig swaps the config map wholesale.
func (rt *AgentRuntime) replaceConfig(cfg map[string]interface{}) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.config = copyConfig(cfg)
}

// status is the body of a status control response.
func (rt *AgentRuntime) status() map[string]interface{} {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	uptime := int64(0)
	if !rt.startedAt.IsZero() {
		uptime = int64(time.Since(rt.startedAt) / time.Second)
	}
	return map[string]interface{}{
		"type":   "status",
		"id":     rt.id,
		"name":   rt.info.Name,
		"paused": rt.paused,
		"config": copyConfig(rt.config),
		"uptime": uptime,
	}
}

func copyConfig(cfg map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
