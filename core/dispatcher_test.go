package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RequestResponse(t *testing.T) {
	env := newTestEnv(t)
	greeter := &greeterAgent{}
	server := env.start(greeter)
	client := newClientAgent("client", "asking")
	clientRt := env.start(client)

	sent, res := clientRt.Request(context.Background(), server.ID(), map[string]interface{}{
		"greeting": "Hello",
		"name":     "World",
	})
	require.True(t, res.Success)

	reply := receive(t, client.responses)
	assert.Equal(t, MessageTypeResponse, reply.Header.Type)
	assert.Equal(t, sent.Header.EventUUID, reply.Header.EventUUID, "event uuid is preserved")
	assert.Equal(t, server.ID(), reply.Header.FromUUID)
	assert.Equal(t, clientRt.ID(), reply.Header.ToUUID)
	assert.Equal(t, "Hello, World!", reply.Get("message"))
	assert.Equal(t, 1, greeter.handled())
}

func TestDispatcher_ValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	greeter := &greeterAgent{}
	server := env.start(greeter)
	client := newClientAgent("client", "asking")
	clientRt := env.start(client)

	_, res := clientRt.Request(context.Background(), server.ID(), map[string]interface{}{
		"greeting": 42,
		"color":    "blue",
	})
	require.True(t, res.Success)

	reply := receive(t, client.responses)
	assert.Equal(t, MessageTypeResponse, reply.Header.Type)
	assert.Equal(t, "error", reply.Get("type"))
	assert.Contains(t, reply.Get("error"), "request validation failed")

	violations, ok := reply.Get("errors").([]interface{})
	require.True(t, ok, "errors lists every violation")
	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, v.(map[string]interface{})["field"].(string))
	}
	assert.Equal(t, []string{"color", "greeting", "name"}, fields)
	assert.Zero(t, greeter.handled(), "handler never sees an invalid request")
}

func TestDispatcher_HandlerError(t *testing.T) {
	env := newTestEnv(t)
	server := env.start(&scriptedAgent{
		onRequest: func(ctx context.Context, env *Envelope) (map[string]interface{}, error) {
			return nil, errBoom
		},
	})
	client := newClientAgent("client", "asking")
	clientRt := env.start(client)

	_, res := clientRt.Request(context.Background(), server.ID(), nil)
	require.True(t, res.Success)

	reply := receive(t, client.responses)
	assert.Equal(t, "error", reply.Get("type"))
	assert.Equal(t, "boom", reply.Get("error"))
	assert.Nil(t, reply.Get("errors"))
}

func TestDispatcher_NilResultSendsNothing(t *testing.T) {
	env := newTestEnv(t)
	server := env.start(&scriptedAgent{})
	client := newClientAgent("client", "asking")
	clientRt := env.start(client)

	_, res := clientRt.Request(context.Background(), server.ID(), nil)
	require.True(t, res.Success)
	expectNone(t, client.responses, 100*time.Millisecond)
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	server := env.start(&scriptedAgent{
		onRequest: func(ctx context.Context, env *Envelope) (map[string]interface{}, error) {
			calls++
			if calls == 1 {
				panic("handler bug")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	})
	client := newClientAgent("client", "asking")
	clientRt := env.start(client)

	_, res := clientRt.Request(context.Background(), server.ID(), nil)
	require.True(t, res.Success)

	reply := receive(t, client.responses)
	assert.Equal(t, "error", reply.Get("type"))
	assert.Contains(t, reply.Get("error"), "handler bug")

	entry, ok := env.logger.find("error", "Handler panicked")
	require.True(t, ok)
	assert.NotEmpty(t, entry.fields["stack"])

	// The receive loop survives.
	_, res = clientRt.Request(context.Background(), server.ID(), nil)
	require.True(t, res.Success)
	reply = receive(t, client.responses)
	assert.Equal(t, true, reply.Get("ok"))
	assert.Equal(t, StateRunning, server.State())
}

func TestDispatcher_DefaultResponseHandlerLogs(t *testing.T) {
	env := newTestEnv(t)
	rt := env.build(&greeterAgent{})
	d := rt.Dispatcher()

	d.Dispatch(context.Background(), NewResponse(Header{FromUUID: "me", ToUUID: "peer"}, map[string]interface{}{"x": 1}))
	assert.True(t, env.logger.has("info", "Received response"))

	status := NewControl("peer", "me", ControlActionResponse, map[string]interface{}{
		"data": map[string]interface{}{"type": "status", "paused": false},
	})
	d.Dispatch(context.Background(), status)
	assert.True(t, env.logger.has("info", "Status update from agent"))

	failure := NewControl("peer", "me", ControlActionResponse, map[string]interface{}{
		"data": map[string]interface{}{"type": "error", "error": "nope"},
	})
	d.Dispatch(context.Background(), failure)
	entry, ok := env.logger.find("error", "Error from agent")
	require.True(t, ok)
	assert.Equal(t, "nope", entry.fields["error"])

	ack := NewControl("peer", "me", ControlActionResponse, map[string]interface{}{"data": "Paused"})
	d.Dispatch(context.Background(), ack)
	assert.True(t, env.logger.has("info", "Control response"))
}

func TestDispatcher_Spans(t *testing.T) {
	env := newTestEnv(t)
	tel := newRecordingTelemetry()
	rt := env.build(&greeterAgent{}, WithRuntimeTelemetry(tel))

	rt.Dispatcher().Dispatch(context.Background(), NewResponse(Header{FromUUID: "me", ToUUID: "peer"}, nil))

	spans := tel.spansNamed("agent.dispatch")
	require.Len(t, spans, 1)
	assert.Equal(t, "response", spans[0].attrs["envelope.type"])
	assert.True(t, spans[0].ended)
}

func TestDispatcher_Counters(t *testing.T) {
	env := newTestEnv(t)
	tel := newRecordingTelemetry()
	rt := env.start(&greeterAgent{}, WithRuntimeTelemetry(tel))
	d := rt.Dispatcher()
	ctx := context.Background()

	// Replies to "nowhere" have no queue, so each one is a publish failure.
	d.Dispatch(ctx, NewRequest("nowhere", rt.ID(), map[string]interface{}{"greeting": "Hi", "name": "Bo"}))
	d.Dispatch(ctx, NewRequest("nowhere", rt.ID(), map[string]interface{}{}))

	assert.Equal(t, 2.0, tel.metric(MetricEnvelopesDispatched))
	assert.Equal(t, 1.0, tel.metric(MetricRequestsRejected))
	assert.Equal(t, 2.0, tel.metric(MetricPublishFailures))
	assert.Zero(t, tel.metric(MetricEnvelopesDropped))

	require.True(t, rt.setPaused(true))
	d.Dispatch(ctx, NewRequest("nowhere", rt.ID(), map[string]interface{}{"greeting": "Hi", "name": "Bo"}))
	d.Dispatch(ctx, NewResponse(Header{FromUUID: rt.ID(), ToUUID: "nowhere"}, nil))

	assert.Equal(t, 4.0, tel.metric(MetricEnvelopesDispatched))
	assert.Equal(t, 2.0, tel.metric(MetricEnvelopesDropped))
	assert.Equal(t, 2.0, tel.metric(MetricPublishFailures), "dropped envelopes are not answered")
}
