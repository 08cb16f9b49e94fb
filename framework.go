// Package framework wires an agent to its registry, transport, logger and
// telemetry from a core.Config, and runs it until shutdown.
//
// Most programs need only:
//
//	framework.RunAgent(&MyAgent{}, framework.WithName("greeter"))
//
// Programs hosting several agents in one process build each Framework with
// NewFramework and share a registry and transport through UseRegistry and
// UseTransport.
package framework

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/itsneelabh/agentrelay/core"
	"github.com/itsneelabh/agentrelay/socket"
	"github.com/itsneelabh/agentrelay/telemetry"
)

// Re-export core types so simple agents need a single import.
type (
	Agent           = core.Agent
	AgentInfo       = core.AgentInfo
	AgentRef        = core.AgentRef
	AgentRuntime    = core.AgentRuntime
	Envelope        = core.Envelope
	Header          = core.Header
	RequestSchema   = core.RequestSchema
	FieldHint       = core.FieldHint
	ControlAction   = core.ControlAction
	DiscoverOptions = core.DiscoverOptions
	Config          = core.Config
	Option          = core.Option
	Logger          = core.Logger
)

// Re-export configuration options.
var (
	WithName             = core.WithName
	WithNamespace        = core.WithNamespace
	WithRegistryURL      = core.WithRegistryURL
	WithRegistryProvider = core.WithRegistryProvider
	WithRedisURL         = core.WithRedisURL
	WithTransport        = core.WithTransport
	WithHubURL           = core.WithHubURL
	WithCodec            = core.WithCodec
	WithLogLevel         = core.WithLogLevel
	WithLogFormat        = core.WithLogFormat
	WithDevelopmentMode  = core.WithDevelopmentMode
	WithTelemetry        = core.WithTelemetry
	WithConfigFile       = core.WithConfigFile
)

// shutdownTimeout bounds the release of transport, registry and telemetry
// after the agent stops.
const shutdownTimeout = 10 * time.Second

// Framework runs one agent.
type Framework struct {
	agent  Agent
	config *Config
	logger Logger

	registry  core.Registry
	transport core.Transport
	provider  *telemetry.Provider
	owned     []func(context.Context) error

	exit       func(code int)
	runtimeOps []core.RuntimeOption

	mu      sync.Mutex
	runtime *core.AgentRuntime
	ready   chan struct{}
}

// NewFramework resolves the configuration: defaults, then environment, then
// opts. Nothing is connected until Run.
func NewFramework(agent Agent, opts ...Option) (*Framework, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	return NewFrameworkWithConfig(agent, cfg), nil
}

// NewFrameworkWithConfig uses cfg as is. The caller has validated it.
func NewFrameworkWithConfig(agent Agent, cfg *Config) *Framework {
	return &Framework{
		agent:  agent,
		config: cfg,
		logger: core.NewProductionLogger(cfg.Logging, cfg.Development, serviceName(cfg, agent)),
		exit:   os.Exit,
		ready:  make(chan struct{}),
	}
}

// UseRegistry replaces the configured registry backend. The caller keeps
// ownership and closes it.
func (f *Framework) UseRegistry(r core.Registry) *Framework {
	f.registry = r
	return f
}

// UseTransport replaces the configured transport. The caller keeps ownership
// and closes it.
func (f *Framework) UseTransport(t core.Transport) *Framework {
	f.transport = t
	return f
}

// UseLogger replaces the logger built from the configuration.
func (f *Framework) UseLogger(l Logger) *Framework {
	if l != nil {
		f.logger = l
	}
	return f
}

// SetExitFunc replaces os.Exit for shutdown actions.
func (f *Framework) SetExitFunc(exit func(code int)) *Framework {
	if exit != nil {
		f.exit = exit
	}
	return f
}

// WithRuntimeOptions passes extra options to the agent runtime.
func (f *Framework) WithRuntimeOptions(opts ...core.RuntimeOption) *Framework {
	f.runtimeOps = append(f.runtimeOps, opts...)
	return f
}

// Config returns the resolved configuration.
func (f *Framework) Config() *Config { return f.config }

// Logger returns the process logger.
func (f *Framework) Logger() Logger { return f.logger }

// Ready is closed once the runtime exists and the agent is registered.
func (f *Framework) Ready() <-chan struct{} { return f.ready }

// Runtime returns the agent runtime, or nil before Run has built it.
func (f *Framework) Runtime() *core.AgentRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runtime
}

// Run connects the agent and blocks until ctx is done, a signal arrives or
// the agent is shut down. Components built from the configuration are
// released before Run returns.
func (f *Framework) Run(ctx context.Context) error {
	defer f.release()

	if err := f.setupTelemetry(ctx); err != nil {
		return err
	}
	if err := f.setupRegistry(); err != nil {
		return err
	}
	if err := f.setupTransport(ctx); err != nil {
		return err
	}

	client := core.NewRegistryClient(f.registry, f.logger)
	opts := []core.RuntimeOption{
		core.WithRuntimeLogger(f.logger),
		core.WithExitFunc(f.exitAfterRelease),
	}
	if f.provider != nil {
		client.SetTelemetry(f.provider)
		opts = append(opts, core.WithRuntimeTelemetry(f.provider))
	}
	opts = append(opts, f.runtimeOps...)

	rt, err := core.NewAgentRuntime(ctx, f.agent, client, f.transport, opts...)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.runtime = rt
	f.mu.Unlock()
	close(f.ready)

	runCtx, stop := rt.HandleSignals(ctx)
	defer stop()

	return rt.Run(runCtx)
}

// exitAfterRelease closes owned components before the process exits, since
// deferred calls in Run do not survive os.Exit.
func (f *Framework) exitAfterRelease(code int) {
	f.release()
	f.exit(code)
}

func (f *Framework) setupTelemetry(ctx context.Context) error {
	if !f.config.Telemetry.Enabled || f.provider != nil {
		return nil
	}
	p, err := telemetry.New(ctx, f.config.Telemetry, telemetry.WithServiceVersion(Version))
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	f.provider = p
	f.own(p.Shutdown)
	f.logger.Info("Telemetry enabled", map[string]interface{}{
		"endpoint": f.config.Telemetry.Endpoint,
		"sampling": f.config.Telemetry.SamplingRate,
	})
	return nil
}

func (f *Framework) setupRegistry() error {
	if f.registry != nil {
		return nil
	}
	var opts []core.HTTPRegistryOption
	if f.provider != nil {
		client := telemetry.NewTracedHTTPClient(nil)
		client.Timeout = f.config.Registry.Timeout
		opts = append(opts, core.WithHTTPClient(client))
	}
	r, err := NewRegistry(f.config, f.logger, opts...)
	if err != nil {
		return err
	}
	f.registry = r
	f.own(func(context.Context) error { return r.Close() })
	return nil
}

func (f *Framework) setupTransport(ctx context.Context) error {
	if f.transport != nil {
		return nil
	}
	t, err := NewTransport(ctx, f.config, f.logger)
	if err != nil {
		return err
	}
	f.transport = t
	f.own(func(context.Context) error { return t.Close() })
	return nil
}

// NewRegistry builds the registry backend named by cfg.Registry.Provider.
// opts apply to the http provider only.
func NewRegistry(cfg *Config, logger Logger, opts ...core.HTTPRegistryOption) (core.Registry, error) {
	rc := cfg.Registry
	switch rc.Provider {
	case core.RegistryProviderHTTP:
		if rc.Timeout > 0 {
			opts = append([]core.HTTPRegistryOption{core.WithHTTPClient(&http.Client{Timeout: rc.Timeout})}, opts...)
		}
		return core.NewHTTPRegistry(rc.URL, opts...)
	case core.RegistryProviderRedis:
		r, err := core.NewRedisRegistry(rc.RedisURL, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		r.SetLogger(logger)
		r.SetCaseSensitive(rc.CaseSensitive)
		return r, nil
	case core.RegistryProviderMemory:
		r := core.NewMemoryRegistry()
		r.SetCaseSensitive(rc.CaseSensitive)
		return r, nil
	}
	return nil, fmt.Errorf("registry provider %q: %w", rc.Provider, core.ErrInvalidConfiguration)
}

// NewTransport connects the transport named by cfg.Transport.Provider.
func NewTransport(ctx context.Context, cfg *Config, logger Logger) (core.Transport, error) {
	tc := cfg.Transport
	codec, err := core.CodecByName(tc.Codec)
	if err != nil {
		return nil, err
	}

	switch tc.Provider {
	case core.TransportRedis:
		return core.NewRedisTransport(tc.RedisURL, cfg.Namespace, codec, logger)
	case core.TransportWebSocket:
		return socket.Dial(ctx, tc.HubURL,
			socket.WithCodec(codec),
			socket.WithLogger(logger),
			socket.WithBuffer(tc.QueueSize))
	case core.TransportMemory:
		return core.NewMemoryBus(codec, tc.QueueSize, logger), nil
	}
	return nil, fmt.Errorf("transport %q: %w", tc.Provider, core.ErrInvalidConfiguration)
}

func (f *Framework) own(closer func(context.Context) error) {
	f.mu.Lock()
	f.owned = append(f.owned, closer)
	f.mu.Unlock()
}

// release closes owned components in reverse order of creation. It is safe
// to call more than once.
func (f *Framework) release() {
	f.mu.Lock()
	owned := f.owned
	f.owned = nil
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(owned) - 1; i >= 0; i-- {
		if err := owned[i](ctx); err != nil {
			f.logger.Warn("Failed to release component", map[string]interface{}{"error": err.Error()})
		}
	}
}

func serviceName(cfg *Config, agent Agent) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	if agent != nil {
		return agent.Info().Name
	}
	return "agentrelay"
}

// RunAgent builds a Framework for agent and runs it until shutdown. A
// configuration error, including a missing self-description, terminates the
// process with status 78.
func RunAgent(agent Agent, opts ...Option) error {
	return runAgent(context.Background(), agent, os.Exit, opts...)
}

func runAgent(ctx context.Context, agent Agent, exit func(int), opts ...Option) error {
	fw, err := NewFramework(agent, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrelay: %v\n", err)
		exit(core.ExitCodeConfiguration)
		return err
	}
	fw.SetExitFunc(exit)

	err = fw.Run(ctx)
	if core.IsConfigurationError(err) {
		fw.Logger().Error("Agent cannot start", map[string]interface{}{"error": err.Error()})
		exit(core.ExitCodeConfiguration)
	}
	return err
}
