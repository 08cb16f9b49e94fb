package main

import (
	"context"
	"time"

	framework "github.com/itsneelabh/agentrelay"
	"github.com/itsneelabh/agentrelay/core"
)

// controller is the short-lived agent relayctl registers to receive answers.
type controller struct {
	inbox chan *core.Envelope
}

func (c *controller) Info() core.AgentInfo {
	return core.AgentInfo{
		Name:         "relayctl",
		Capabilities: []string{"control", "headquarters"},
		Description:  "command line operator",
	}
}

func (c *controller) HandleResponse(ctx context.Context, env *core.Envelope) error {
	select {
	case c.inbox <- env:
	default:
	}
	return nil
}

type session struct {
	rt     *core.AgentRuntime
	agent  *controller
	cancel context.CancelFunc
	done   chan error
}

// openSession runs the controller agent until close.
func (a *app) openSession(ctx context.Context) (*session, error) {
	agent := &controller{inbox: make(chan *core.Envelope, 64)}

	fw := framework.NewFrameworkWithConfig(agent, a.config)
	fw.UseLogger(a.logger).SetExitFunc(func(int) {})
	if a.registry != nil {
		fw.UseRegistry(a.registry)
	}
	if a.transport != nil {
		fw.UseTransport(a.transport)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{agent: agent, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- fw.Run(runCtx) }()

	select {
	case <-fw.Ready():
	case err := <-s.done:
		cancel()
		return nil, err
	}
	s.rt = fw.Runtime()

	deadline := time.Now().Add(5 * time.Second)
	for s.rt.State() != core.StateRunning {
		if time.Now().After(deadline) {
			s.close()
			return nil, core.ErrConnectionFailed
		}
		select {
		case err := <-s.done:
			cancel()
			return nil, err
		case <-time.After(5 * time.Millisecond):
		}
	}
	return s, nil
}

// collect returns up to n responses received within wait.
func (s *session) collect(ctx context.Context, n int, wait time.Duration) []*core.Envelope {
	var got []*core.Envelope
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for len(got) < n {
		select {
		case env := <-s.agent.inbox:
			got = append(got, env)
		case <-timer.C:
			return got
		case <-ctx.Done():
			return got
		}
	}
	return got
}

// await returns the response correlated with eventUUID, or nil after wait.
func (s *session) await(ctx context.Context, eventUUID string, wait time.Duration) *core.Envelope {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case env := <-s.agent.inbox:
			if env.Header.EventUUID == eventUUID {
				return env
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *session) close() {
	s.cancel()
	<-s.done
}
