package main

import (
	"context"
	"testing"
	"time"

	"github.com/itsneelabh/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	responses chan *core.Envelope
}

func (i *inbox) Info() core.AgentInfo {
	return core.AgentInfo{Name: "client", Capabilities: []string{"client"}}
}

func (i *inbox) HandleResponse(ctx context.Context, env *core.Envelope) error {
	i.responses <- env
	return nil
}

func startAgents(t *testing.T) (*core.AgentRuntime, *inbox, string) {
	t.Helper()
	registry := core.NewRegistryClient(core.NewMemoryRegistry(), nil)
	bus := core.NewMemoryBus(nil, 0, nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	start := func(agent core.Agent) *core.AgentRuntime {
		rt, err := core.NewAgentRuntime(ctx, agent, registry, bus, core.WithExitFunc(func(int) {}))
		require.NoError(t, err)
		go func() { _ = rt.Run(ctx) }()
		require.Eventually(t, func() bool { return rt.State() == core.StateRunning }, 2*time.Second, 5*time.Millisecond)
		return rt
	}

	hello := start(&helloAgent{name: "hello_world"})
	in := &inbox{responses: make(chan *core.Envelope, 4)}
	client := start(in)
	return client, in, hello.ID()
}

func await(t *testing.T, ch <-chan *core.Envelope) *core.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func TestHelloAgent_Greets(t *testing.T) {
	client, in, helloID := startAgents(t)

	tests := []struct {
		name    string
		payload map[string]interface{}
		want    string
	}{
		{"both fields", map[string]interface{}{"greeting": "Hi", "name": "Johnny"}, "Hi Johnny"},
		{"greeting from example", map[string]interface{}{"name": "World"}, "Hello World"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, res := client.Request(context.Background(), helloID, tt.payload)
			require.True(t, res.Success)

			reply := await(t, in.responses)
			assert.Equal(t, tt.want, reply.Get("result"))
			assert.Equal(t, req.Header.EventUUID, reply.Get("event_uuid"))
		})
	}
}

func TestHelloAgent_RejectsMissingName(t *testing.T) {
	client, in, helloID := startAgents(t)

	_, res := client.Request(context.Background(), helloID, map[string]interface{}{"greeting": "Hi"})
	require.True(t, res.Success)

	reply := await(t, in.responses)
	assert.Equal(t, "error", reply.Get("type"))
	assert.Contains(t, reply.Get("error"), "name")
}

func TestHelloAgent_Info(t *testing.T) {
	h := &helloAgent{name: "hello_world"}
	info := h.Info()
	require.NoError(t, info.Validate())
	assert.Contains(t, info.Capabilities, "greeter")

	schema := h.RequestSchema().JSONSchema(info.Name)
	assert.Equal(t, []string{"name"}, schema["required"])
}
