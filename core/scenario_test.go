package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mathAgent adds two numbers.
type mathAgent struct {
	greeterAgent
}

func (m *mathAgent) Info() AgentInfo {
	return AgentInfo{Name: "calculator", Capabilities: []string{"math"}}
}

func (m *mathAgent) RequestSchema() *RequestSchema {
	return &RequestSchema{
		RequiredFields: []FieldHint{
			{Name: "a", Type: "number"},
			{Name: "b", Type: "number"},
		},
	}
}

func (m *mathAgent) HandleRequest(ctx context.Context, env *Envelope) (map[string]interface{}, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	a, _ := toFloat(env.Get("a"))
	b, _ := toFloat(env.Get("b"))
	return map[string]interface{}{"sum": a + b}, nil
}

// TestScenario_DiscoverValidatePause walks three agents through discovery,
// a rejected request and a pause.
func TestScenario_DiscoverValidatePause(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	calc := &mathAgent{}
	a := env.start(calc)
	env.start(newClientAgent("writer", "text"))
	c := newClientAgent("caller", "orchestration")
	cRt := env.start(c)

	refs, err := cRt.Discover(ctx, "math", DiscoverOptions{All: true})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, a.ID(), refs[0].UUID)
	assert.Equal(t, "calculator", refs[0].Name)

	// A valid request is answered.
	_, res := cRt.Request(ctx, refs[0].UUID, map[string]interface{}{"a": 2, "b": 3})
	require.True(t, res.Success)
	assert.EqualValues(t, 5, receive(t, c.responses).Get("sum"))

	// An invalid one never reaches the handler.
	_, res = cRt.Request(ctx, a.ID(), map[string]interface{}{"a": "two"})
	require.True(t, res.Success)
	reply := receive(t, c.responses)
	assert.Equal(t, MessageTypeResponse, reply.Header.Type)
	assert.NotEmpty(t, reply.Get("error"))
	assert.Equal(t, 1, calc.handled())

	// Pause, then a request is dropped but status still answers.
	ack := sendControl(t, cRt, c, a.ID(), ControlActionPause, nil)
	assert.Equal(t, "Paused", ack.Get("data"))

	_, res = cRt.Request(ctx, a.ID(), map[string]interface{}{"a": 1, "b": 1})
	require.True(t, res.Success)
	expectNone(t, c.responses, 100*time.Millisecond)
	assert.Equal(t, 1, calc.handled())

	status := sendControl(t, cRt, c, a.ID(), ControlActionStatus, nil)
	data := status.Get("data").(map[string]interface{})
	assert.Equal(t, true, data["paused"])
	assert.Equal(t, a.ID(), data["id"])
}

// TestScenario_CBOROverMemoryBus runs a request/response exchange with the
// binary codec.
func TestScenario_CBOROverMemoryBus(t *testing.T) {
	env := newTestEnv(t)
	env.bus = NewMemoryBus(NewCBORCodec(), 8, env.logger)
	t.Cleanup(func() { _ = env.bus.Close() })

	server := env.start(&greeterAgent{})
	c := newClientAgent("caller", "orchestration")
	cRt := env.start(c)

	_, res := cRt.Request(context.Background(), server.ID(), map[string]interface{}{"greeting": "Hallo", "name": "Welt"})
	require.True(t, res.Success)
	assert.Equal(t, "Hallo, Welt!", receive(t, c.responses).Get("message"))
}
