package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Dispatcher classifies inbound envelopes by type and runs validation, the
// agent's handlers and the built-in control transitions. It holds no state of
// its own beyond a mutex that serializes Dispatch, so an agent handles one
// envelope at a time even when the transport delivers concurrently.
type Dispatcher struct {
	rt       *AgentRuntime
	logger   Logger
	mu       sync.Mutex
	request  RequestHandler
	response ResponseHandler
	control  ControlHandler
}

func newDispatcher(rt *AgentRuntime) *Dispatcher {
	d := &Dispatcher{rt: rt, logger: rt.logger}
	if h, ok := rt.agent.(RequestHandler); ok {
		d.request = h
	}
	if h, ok := rt.agent.(ResponseHandler); ok {
		d.response = h
	} else {
		d.response = &defaultResponseHandler{logger: rt.logger}
	}
	if h, ok := rt.agent.(ControlHandler); ok {
		d.control = h
	}
	return d
}

// Handlers returns the typed callbacks passed to Transport.Listen.
func (d *Dispatcher) Handlers() EnvelopeHandlers {
	return EnvelopeHandlers{
		OnRequest:  d.guard(d.handleRequest),
		OnResponse: d.guard(d.handleResponse),
		OnControl:  d.guard(d.handleControl),
	}
}

// Dispatch routes one envelope as if it had arrived on the subscription.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) {
	RouteEnvelope(ctx, env, d.Handlers(), d.logger)
}

// guard serializes h and turns a panic into a logged handler failure answered
// with an error envelope. The receive loop never dies from a handler.
func (d *Dispatcher) guard(h EnvelopeHandler) EnvelopeHandler {
	return func(ctx context.Context, env *Envelope) {
		d.mu.Lock()
		defer d.mu.Unlock()

		ctx, span := d.rt.telemetry.StartSpan(ctx, "agent.dispatch")
		defer span.End()
		span.SetAttribute("envelope.type", string(env.Header.Type))
		span.SetAttribute("envelope.event_uuid", env.Header.EventUUID)
		d.count(MetricEnvelopesDispatched, env, nil)

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v: %w", r, ErrHandlerFailed)
				span.RecordError(err)
				d.count(MetricHandlerFailures, env, nil)
				d.logger.Error("Handler panicked", map[string]interface{}{
					"type":       string(env.Header.Type),
					"event_uuid": env.Header.EventUUID,
					"panic":      fmt.Sprint(r),
					"stack":      string(debug.Stack()),
				})
				d.answerFailure(ctx, env, err)
			}
		}()

		h(ctx, env)
	}
}

// answerFailure replies to a failed envelope where the originator is known.
// Responses are never answered, to avoid reply loops.
func (d *Dispatcher) answerFailure(ctx context.Context, env *Envelope, err error) {
	if env.Header.FromUUID == "" {
		return
	}
	switch env.Header.Type {
	case MessageTypeRequest:
		d.sendErrorResponse(ctx, env, err.Error(), nil)
	case MessageTypeControl:
		if env.Action() != ControlActionResponse {
			d.sendControlResponse(ctx, env, nil, err)
		}
	}
}

// count records one occurrence of metric labelled with the envelope type.
func (d *Dispatcher) count(metric string, env *Envelope, labels map[string]string) {
	if labels == nil {
		labels = map[string]string{}
	}
	labels["type"] = string(env.Header.Type)
	d.rt.telemetry.RecordMetric(metric, 1, labels)
}

func (d *Dispatcher) handleRequest(ctx context.Context, env *Envelope) {
	if d.rt.Paused() {
		d.count(MetricEnvelopesDropped, env, map[string]string{"reason": "paused"})
		d.logger.Debug("Paused, dropping request", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"from_uuid":  env.Header.FromUUID,
		})
		return
	}

	if violations := d.rt.schema.Validate(env.Payload); len(violations) > 0 {
		verr := &ValidationError{Violations: violations}
		d.count(MetricRequestsRejected, env, nil)
		d.logger.Warn("Request failed validation", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"from_uuid":  env.Header.FromUUID,
			"violations": len(violations),
		})
		d.sendErrorResponse(ctx, env, verr.Error(), violations)
		return
	}

	if d.request == nil {
		d.logger.Info("Received request", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"payload":    env.Payload,
		})
		return
	}

	result, err := d.request.HandleRequest(ctx, env)
	if err != nil {
		d.count(MetricHandlerFailures, env, nil)
		d.logger.Error("Request handler failed", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"error":      err.Error(),
		})
		d.sendErrorResponse(ctx, env, err.Error(), nil)
		return
	}
	if result == nil {
		return
	}
	d.rt.Send(ctx, NewResponse(env.Header, result))
}

func (d *Dispatcher) handleResponse(ctx context.Context, env *Envelope) {
	if d.rt.Paused() {
		d.count(MetricEnvelopesDropped, env, map[string]string{"reason": "paused"})
		d.logger.Debug("Paused, dropping response", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"from_uuid":  env.Header.FromUUID,
		})
		return
	}
	d.deliverResponse(ctx, env)
}

func (d *Dispatcher) deliverResponse(ctx context.Context, env *Envelope) {
	if err := d.response.HandleResponse(ctx, env); err != nil {
		d.logger.Error("Response handler failed", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"error":      err.Error(),
		})
	}
}

// sendErrorResponse answers a request with a response whose payload names the
// failure and, for validation failures, every violated field.
func (d *Dispatcher) sendErrorResponse(ctx context.Context, env *Envelope, msg string, violations []FieldViolation) {
	payload := map[string]interface{}{
		"type":  "error",
		"error": msg,
	}
	if len(violations) > 0 {
		payload["errors"] = violations
	}
	d.rt.Send(ctx, NewResponse(env.Header, payload))
}

// sendControlResponse answers a control envelope. The reply goes to the
// return address with type control.
func (d *Dispatcher) sendControlResponse(ctx context.Context, env *Envelope, data interface{}, err error) {
	header := DeriveReturnAddress(env.Header)
	header.Type = MessageTypeControl

	payload := map[string]interface{}{
		"action": ControlActionResponse.String(),
		"data":   data,
	}
	if err != nil {
		payload["error"] = err.Error()
		if data == nil {
			payload["data"] = map[string]interface{}{"type": "error", "error": err.Error()}
		}
	}
	d.rt.Send(ctx, &Envelope{Header: header, Payload: payload})
}

// defaultResponseHandler logs responses, reading control acknowledgements by
// their data.type.
type defaultResponseHandler struct {
	logger Logger
}

func (h *defaultResponseHandler) HandleResponse(ctx context.Context, env *Envelope) error {
	if env.Header.Type != MessageTypeControl {
		h.logger.Info("Received response", map[string]interface{}{
			"event_uuid": env.Header.EventUUID,
			"from_uuid":  env.Header.FromUUID,
			"payload":    env.Payload,
		})
		return nil
	}

	data, _ := env.Get("data").(map[string]interface{})
	kind, _ := data["type"].(string)
	switch kind {
	case "status":
		h.logger.Info("Status update from agent", map[string]interface{}{
			"from_uuid": env.Header.FromUUID,
			"status":    data,
		})
	case "error":
		h.logger.Error("Error from agent", map[string]interface{}{
			"from_uuid": env.Header.FromUUID,
			"error":     data["error"],
		})
	default:
		h.logger.Info("Control response", map[string]interface{}{
			"from_uuid": env.Header.FromUUID,
			"data":      env.Get("data"),
		})
	}
	return nil
}
