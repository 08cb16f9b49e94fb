package core

import (
	"context"
	"fmt"
)

// Control acknowledgement texts carried in the data field.
const (
	ackShuttingDown  = "Shutting down"
	ackPaused        = "Paused"
	ackResumed       = "Resumed"
	ackConfigUpdated = "Configuration updated"
)

// handleControl runs the control state machine. Control envelopes are
// processed while paused so an agent can always be resumed or queried.
func (d *Dispatcher) handleControl(ctx context.Context, env *Envelope) {
	action := env.Action()

	switch action {
	case ControlActionResponse:
		d.deliverResponse(ctx, env)
		return
	case ControlActionUnknown:
		d.logger.Warn("Unknown control action", map[string]interface{}{
			"action":    fmt.Sprint(env.Get("action")),
			"from_uuid": env.Header.FromUUID,
		})
		return
	}

	if d.control != nil {
		if err := d.control.HandleControl(ctx, action, env); err != nil {
			d.count(MetricHandlerFailures, env, nil)
			d.logger.Error("Control handler failed", map[string]interface{}{
				"action": action.String(),
				"error":  err.Error(),
			})
			d.sendControlResponse(ctx, env, nil, fmt.Errorf("%w: %w", ErrHandlerFailed, err))
			return
		}
	}

	switch action {
	case ControlActionShutdown:
		d.logger.Info("Received shutdown command, shutting down gracefully", nil)
		d.sendControlResponse(ctx, env, ackShuttingDown, nil)
		d.rt.Shutdown(context.WithoutCancel(ctx))
	case ControlActionPause:
		d.transition(ctx, env, true, ackPaused)
	case ControlActionResume:
		d.transition(ctx, env, false, ackResumed)
	case ControlActionUpdateConfig:
		cfg, _ := env.Get("config").(map[string]interface{})
		d.rt.replaceConfig(cfg)
		d.logger.Info("Configuration updated", map[string]interface{}{"keys": len(cfg)})
		d.sendControlResponse(ctx, env, ackConfigUpdated, nil)
	case ControlActionStatus:
		d.sendControlResponse(ctx, env, d.rt.status(), nil)
	}
}

func (d *Dispatcher) transition(ctx context.Context, env *Envelope, paused bool, ack string) {
	if !d.rt.setPaused(paused) {
		err := &FrameworkError{
			Op:      "control." + env.Action().String(),
			Kind:    KindControl,
			Message: fmt.Sprintf("cannot %s agent in state %s", env.Action(), d.rt.State()),
			Err:     ErrInvalidTransition,
		}
		d.sendControlResponse(ctx, env, nil, err)
		return
	}
	d.logger.Info("Agent state changed", map[string]interface{}{"state": d.rt.State().String()})
	d.sendControlResponse(ctx, env, ack, nil)
}
