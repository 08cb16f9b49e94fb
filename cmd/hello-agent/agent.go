package main

import (
	"context"
	"fmt"

	"github.com/itsneelabh/agentrelay/core"
)

// helloAgent builds a salutation from a greeting and a name. Missing fields
// fall back to the examples in its request contract.
type helloAgent struct {
	name string
	rt   *core.AgentRuntime
}

func (h *helloAgent) Info() core.AgentInfo {
	return core.AgentInfo{
		Name:         h.name,
		Capabilities: []string{"greeter", "hello_world"},
		Description: `Create a salutation. For example "Hello World" or "Hi Johnny" ` +
			`using two parameters, greeting and name.`,
	}
}

func (h *helloAgent) RequestSchema() *core.RequestSchema {
	return &core.RequestSchema{
		RequiredFields: []core.FieldHint{
			{Name: "name", Type: "string", Description: "who to greet", Example: "World"},
		},
		OptionalFields: []core.FieldHint{
			{Name: "greeting", Type: "string", Description: "salutation to use", Example: "Hello"},
		},
	}
}

func (h *helloAgent) Init(ctx context.Context, rt *core.AgentRuntime) error {
	h.rt = rt
	return nil
}

func (h *helloAgent) HandleRequest(ctx context.Context, env *core.Envelope) (map[string]interface{}, error) {
	if env.Header.ToUUID != h.rt.Address() {
		h.rt.Logger().Error("Received someone else's request", map[string]interface{}{
			"to_uuid":    env.Header.ToUUID,
			"from_uuid":  env.Header.FromUUID,
			"event_uuid": env.Header.EventUUID,
		})
		return nil, fmt.Errorf("incorrect message queue for header: addressed to %s", env.Header.ToUUID)
	}

	greeting := h.rt.Field(env, "greeting")
	name := h.rt.Field(env, "name")
	return map[string]interface{}{
		"event_uuid": env.Header.EventUUID,
		"result":     fmt.Sprintf("%v %v", greeting, name),
	}, nil
}
