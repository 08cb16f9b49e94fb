package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// controlPair starts a greeter and a client able to steer it.
func controlPair(t *testing.T) (*testEnv, *AgentRuntime, *greeterAgent, *AgentRuntime, *clientAgent) {
	t.Helper()
	env := newTestEnv(t)
	greeter := &greeterAgent{}
	server := env.start(greeter)
	client := newClientAgent("operator", "operations")
	clientRt := env.start(client)
	return env, server, greeter, clientRt, client
}

// sendControl sends action to target and returns the control response.
func sendControl(t *testing.T, from *AgentRuntime, inbox *clientAgent, target string, action ControlAction, fields map[string]interface{}) *Envelope {
	t.Helper()
	ctl := NewControl(from.Address(), target, action, fields)
	require.True(t, from.Send(context.Background(), ctl).Success)

	reply := receive(t, inbox.responses)
	require.Equal(t, MessageTypeControl, reply.Header.Type)
	require.Equal(t, "response", reply.Get("action"))
	require.Equal(t, ctl.Header.EventUUID, reply.Header.EventUUID)
	return reply
}

func TestControl_PauseResume(t *testing.T) {
	_, server, greeter, clientRt, client := controlPair(t)
	ctx := context.Background()

	reply := sendControl(t, clientRt, client, server.ID(), ControlActionPause, nil)
	assert.Equal(t, "Paused", reply.Get("data"))
	assert.Equal(t, StatePaused, server.State())
	assert.True(t, server.Paused())

	// Requests are dropped while paused, without a reply.
	_, res := clientRt.Request(ctx, server.ID(), map[string]interface{}{"greeting": "Hi", "name": "Ann"})
	require.True(t, res.Success)
	expectNone(t, client.responses, 100*time.Millisecond)
	assert.Zero(t, greeter.handled())

	reply = sendControl(t, clientRt, client, server.ID(), ControlActionResume, nil)
	assert.Equal(t, "Resumed", reply.Get("data"))
	assert.Equal(t, StateRunning, server.State())

	_, res = clientRt.Request(ctx, server.ID(), map[string]interface{}{"greeting": "Hi", "name": "Ann"})
	require.True(t, res.Success)
	assert.Equal(t, "Hi, Ann!", receive(t, client.responses).Get("message"))
}

func TestControl_PauseTwiceIsIdempotent(t *testing.T) {
	_, server, _, clientRt, client := controlPair(t)

	sendControl(t, clientRt, client, server.ID(), ControlActionPause, nil)
	reply := sendControl(t, clientRt, client, server.ID(), ControlActionPause, nil)
	assert.Equal(t, "Paused", reply.Get("data"))
	assert.Nil(t, reply.Get("error"))
}

func TestControl_Status(t *testing.T) {
	_, server, _, clientRt, client := controlPair(t)

	sendControl(t, clientRt, client, server.ID(), ControlActionPause, nil)
	reply := sendControl(t, clientRt, client, server.ID(), ControlActionStatus, nil)

	data, ok := reply.Get("data").(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "status", data["type"])
	assert.Equal(t, server.ID(), data["id"])
	assert.Equal(t, "greeter", data["name"])
	assert.Equal(t, true, data["paused"])
	assert.Equal(t, map[string]interface{}{}, data["config"])
	assert.GreaterOrEqual(t, data["uptime"], float64(0))
}

func TestControl_UpdateConfig(t *testing.T) {
	_, server, _, clientRt, client := controlPair(t)

	reply := sendControl(t, clientRt, client, server.ID(), ControlActionUpdateConfig, map[string]interface{}{
		"config": map[string]interface{}{"greeting_style": "formal", "retries": 3},
	})
	assert.Equal(t, "Configuration updated", reply.Get("data"))
	assert.Equal(t, "formal", server.Config()["greeting_style"])

	// The map is replaced, not merged.
	sendControl(t, clientRt, client, server.ID(), ControlActionUpdateConfig, map[string]interface{}{
		"config": map[string]interface{}{"locale": "fr"},
	})
	assert.Equal(t, map[string]interface{}{"locale": "fr"}, server.Config())

	reply = sendControl(t, clientRt, client, server.ID(), ControlActionStatus, nil)
	data := reply.Get("data").(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"locale": "fr"}, data["config"])
}

func TestControl_Shutdown(t *testing.T) {
	env, server, _, clientRt, client := controlPair(t)
	id := server.ID()

	reply := sendControl(t, clientRt, client, id, ControlActionShutdown, nil)
	assert.Equal(t, "Shutting down", reply.Get("data"))

	select {
	case code := <-env.exits:
		assert.Equal(t, ExitCodeOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not exit")
	}
	waitForState(t, server, StateTerminated)

	_, ok := env.registry.Lookup(id)
	assert.False(t, ok)

	_, err := clientRt.Discover(context.Background(), "greeting", DiscoverOptions{})
	assert.True(t, errors.Is(err, ErrNoAgentsAvailable))
}

func TestControl_UnknownActionIgnored(t *testing.T) {
	env, server, _, clientRt, client := controlPair(t)

	ctl := NewControl(clientRt.Address(), server.ID(), ControlActionUnknown, nil)
	ctl.Payload["action"] = "self_destruct"
	require.True(t, clientRt.Send(context.Background(), ctl).Success)

	expectNone(t, client.responses, 100*time.Millisecond)
	assert.Equal(t, StateRunning, server.State())
	assert.True(t, env.logger.has("warn", "Unknown control action"))
}

func TestControl_HandlerErrorAbortsTransition(t *testing.T) {
	env := newTestEnv(t)
	var seen []ControlAction
	server := env.start(&scriptedAgent{
		onControl: func(ctx context.Context, action ControlAction, env *Envelope) error {
			seen = append(seen, action)
			if action == ControlActionPause {
				return errors.New("pause refused")
			}
			return nil
		},
	})
	client := newClientAgent("operator", "operations")
	clientRt := env.start(client)

	reply := sendControl(t, clientRt, client, server.ID(), ControlActionPause, nil)
	assert.Contains(t, reply.Get("error"), "pause refused")
	data := reply.Get("data").(map[string]interface{})
	assert.Equal(t, "error", data["type"])
	assert.Equal(t, StateRunning, server.State(), "transition was aborted")

	reply = sendControl(t, clientRt, client, server.ID(), ControlActionStatus, nil)
	assert.Nil(t, reply.Get("error"))
	assert.Equal(t, []ControlAction{ControlActionPause, ControlActionStatus}, seen)
}

func TestControl_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	rt := env.build(&greeterAgent{})
	peer, err := env.bus.Setup(context.Background(), "peer")
	require.NoError(t, err)

	c := newCollector()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.bus.Listen(ctx, peer, c.handlers()) }()

	// Registered but not running: pause is refused.
	rt.Dispatcher().Dispatch(ctx, NewControl("peer", rt.ID(), ControlActionPause, nil))

	reply := receive(t, c.controls)
	assert.Equal(t, "response", reply.Get("action"))
	assert.Contains(t, reply.Get("error"), "invalid state transition")
	assert.Equal(t, StateRegistered, rt.State())
}

func TestControl_ResponsesProcessedWhilePaused(t *testing.T) {
	_, server, _, clientRt, client := controlPair(t)
	require.True(t, clientRt.setPaused(true))

	// Control responses still reach a paused agent.
	reply := sendControl(t, clientRt, client, server.ID(), ControlActionStatus, nil)
	assert.Equal(t, "status", reply.Get("data").(map[string]interface{})["type"])

	// Plain responses do not.
	_, res := clientRt.Request(context.Background(), server.ID(), map[string]interface{}{"greeting": "Hi", "name": "Ann"})
	require.True(t, res.Success)
	expectNone(t, client.responses, 100*time.Millisecond)
}
