package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// greeterAgent answers greeting requests.
type greeterAgent struct {
	mu    sync.Mutex
	calls int
}

func (g *greeterAgent) Info() AgentInfo {
	return AgentInfo{Name: "greeter", Capabilities: []string{"greeting"}, Description: "says hello"}
}

func (g *greeterAgent) RequestSchema() *RequestSchema { return greeterSchema() }

func (g *greeterAgent) HandleRequest(ctx context.Context, env *Envelope) (map[string]interface{}, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return map[string]interface{}{
		"message": fmt.Sprintf("%s, %s!", env.Get("greeting"), env.Get("name")),
	}, nil
}

func (g *greeterAgent) handled() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// clientAgent records every response it receives.
type clientAgent struct {
	name      string
	caps      []string
	responses chan *Envelope
}

func newClientAgent(name string, caps ...string) *clientAgent {
	return &clientAgent{name: name, caps: caps, responses: make(chan *Envelope, 16)}
}

func (c *clientAgent) Info() AgentInfo {
	return AgentInfo{Name: c.name, Capabilities: c.caps}
}

func (c *clientAgent) HandleResponse(ctx context.Context, env *Envelope) error {
	c.responses <- env
	return nil
}

// scriptedAgent lets a test supply each handler.
type scriptedAgent struct {
	onRequest func(ctx context.Context, env *Envelope) (map[string]interface{}, error)
	onControl func(ctx context.Context, action ControlAction, env *Envelope) error
	onInit    func(ctx context.Context, rt *AgentRuntime) error
}

func (s *scriptedAgent) Info() AgentInfo {
	return AgentInfo{Name: "scripted", Capabilities: []string{"testing"}}
}

func (s *scriptedAgent) HandleRequest(ctx context.Context, env *Envelope) (map[string]interface{}, error) {
	if s.onRequest == nil {
		return nil, nil
	}
	return s.onRequest(ctx, env)
}

func (s *scriptedAgent) HandleControl(ctx context.Context, action ControlAction, env *Envelope) error {
	if s.onControl == nil {
		return nil
	}
	return s.onControl(ctx, action, env)
}

func (s *scriptedAgent) Init(ctx context.Context, rt *AgentRuntime) error {
	if s.onInit == nil {
		return nil
	}
	return s.onInit(ctx, rt)
}

// testEnv is a registry and bus shared by the agents of one test.
type testEnv struct {
	t        *testing.T
	registry *MemoryRegistry
	client   *RegistryClient
	bus      *MemoryBus
	logger   *recordingLogger
	exits    chan int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := newRecordingLogger()
	reg := NewMemoryRegistry()
	bus := NewMemoryBus(nil, 0, logger)
	t.Cleanup(func() { _ = bus.Close() })
	return &testEnv{
		t:        t,
		registry: reg,
		client:   NewRegistryClient(reg, logger),
		bus:      bus,
		logger:   logger,
		exits:    make(chan int, 4),
	}
}

// start builds a runtime for agent and runs it until the test ends.
func (e *testEnv) start(agent Agent, opts ...RuntimeOption) *AgentRuntime {
	e.t.Helper()
	rt := e.build(agent, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	e.t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			e.t.Error("Run did not return")
		}
	})

	waitForState(e.t, rt, StateRunning)
	return rt
}

func (e *testEnv) build(agent Agent, opts ...RuntimeOption) *AgentRuntime {
	e.t.Helper()
	base := []RuntimeOption{
		WithRuntimeLogger(e.logger),
		WithExitFunc(func(code int) { e.exits <- code }),
	}
	rt, err := NewAgentRuntime(context.Background(), agent, e.client, e.bus, append(base, opts...)...)
	require.NoError(e.t, err)
	return rt
}

func waitForState(t *testing.T, rt *AgentRuntime, want AgentState) {
	t.Helper()
	require.Eventually(t, func() bool { return rt.State() == want },
		2*time.Second, 5*time.Millisecond, "agent never reached %s", want)
}

func expectNone(t *testing.T, ch <-chan *Envelope, wait time.Duration) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope: %+v", env)
	case <-time.After(wait):
	}
}

var errBoom = errors.New("boom")
