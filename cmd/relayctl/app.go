package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	framework "github.com/itsneelabh/agentrelay"
	"github.com/itsneelabh/agentrelay/core"
)

// app holds what every command needs. registry and transport are built
// from config unless already set.
type app struct {
	config    *framework.Config
	logger    core.Logger
	out       io.Writer
	registry  core.Registry
	transport core.Transport
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list(ctx)
	case "discover":
		return a.discover(ctx, args)
	case "control":
		return a.control(ctx, args)
	case "request":
		return a.request(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) registryClient() (*core.RegistryClient, func(), error) {
	if a.registry != nil {
		return core.NewRegistryClient(a.registry, a.logger), func() {}, nil
	}
	r, err := framework.NewRegistry(a.config, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return core.NewRegistryClient(r, a.logger), func() { _ = r.Close() }, nil
}

func (a *app) list(ctx context.Context) error {
	client, done, err := a.registryClient()
	if err != nil {
		return err
	}
	defer done()

	refs, err := client.FetchAll(ctx)
	if err != nil {
		return err
	}
	a.printAgents(refs)
	return nil
}

func (a *app) discover(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	howMany := flags.Int("how-many", 1, "number of agents to select at random")
	all := flags.Bool("all", false, "return every match")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("discover takes exactly one capability")
	}

	client, done, err := a.registryClient()
	if err != nil {
		return err
	}
	defer done()

	refs, err := client.Discover(ctx, flags.Arg(0), core.DiscoverOptions{HowMany: *howMany, All: *all})
	if err != nil {
		return err
	}
	a.printAgents(refs)
	return nil
}

func (a *app) control(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("control", pflag.ContinueOnError)
	targets := flags.StringSlice("to", nil, "agent ids (default: every registered agent)")
	settings := flags.StringToString("set", nil, "config entries for update_config, key=value")
	wait := flags.Duration("wait", 3*time.Second, "how long to wait for acknowledgements")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("control takes exactly one action")
	}
	action := core.ParseControlAction(flags.Arg(0))
	if action == core.ControlActionUnknown || action == core.ControlActionResponse {
		return fmt.Errorf("unknown control action %q: %w", flags.Arg(0), core.ErrUnknownAction)
	}

	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	ids := *targets
	names := map[string]string{}
	if len(ids) == 0 {
		refs, err := s.rt.Registry().FetchAll(ctx)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if ref.UUID == s.rt.ID() {
				continue
			}
			ids = append(ids, ref.UUID)
			names[ref.UUID] = ref.Name
		}
	}
	if len(ids) == 0 {
		return core.ErrNoAgentsAvailable
	}

	var fields map[string]interface{}
	if action == core.ControlActionUpdateConfig {
		fields = map[string]interface{}{"config": toConfig(*settings)}
	}

	pending := map[string]string{}
	for _, id := range ids {
		env := core.NewControl(s.rt.Address(), id, action, fields)
		res := s.rt.Send(ctx, env)
		label := displayName(id, names)
		if !res.Success {
			fmt.Fprintf(a.out, "Sent %s to %s: %s\n", action, label, color.RedString("Failed (%v)", res.Error))
			continue
		}
		fmt.Fprintf(a.out, "Sent %s to %s: %s\n", action, label, color.GreenString("Success"))
		pending[env.Header.EventUUID] = label
	}

	for _, env := range s.collect(ctx, len(pending), *wait) {
		label, ok := pending[env.Header.EventUUID]
		if !ok {
			continue
		}
		delete(pending, env.Header.EventUUID)
		a.printAck(label, env)
	}
	for _, label := range sortedValues(pending) {
		fmt.Fprintf(a.out, "%s %s\n", color.YellowString("No answer from"), label)
	}
	return nil
}

func (a *app) request(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("request", pflag.ContinueOnError)
	payloadJSON := flags.String("payload", "{}", "request payload as a JSON object")
	to := flags.String("to", "", "agent id (default: discover one by capability)")
	wait := flags.Duration("wait", 5*time.Second, "how long to wait for the response")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *to == "" && flags.NArg() != 1 {
		return fmt.Errorf("request takes a capability or --to")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
		return fmt.Errorf("invalid --payload: %w", err)
	}

	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	target := *to
	if target == "" {
		refs, err := s.rt.Discover(ctx, flags.Arg(0), core.DiscoverOptions{})
		if err != nil {
			return err
		}
		target = refs[0].UUID
		fmt.Fprintf(a.out, "Sending to %s (%s)\n", color.CyanString(refs[0].Name), target)
	}

	req, res := s.rt.Request(ctx, target, payload)
	if !res.Success {
		return res.Error
	}
	env := s.await(ctx, req.Header.EventUUID, *wait)
	if env == nil {
		return fmt.Errorf("no response within %s", *wait)
	}
	if env.Get("type") == "error" {
		fmt.Fprintln(a.out, color.RedString("Error: %v", env.Get("error")))
	}
	return a.printJSON(env.Payload)
}

func (a *app) printAgents(refs []*core.AgentRef) {
	if len(refs) == 0 {
		fmt.Fprintln(a.out, color.YellowString("No agents registered"))
		return
	}
	cyan := color.New(color.FgCyan)
	for _, ref := range refs {
		cyan.Fprintf(a.out, "%-24s", ref.Name)
		fmt.Fprintf(a.out, " %s  %s\n", ref.UUID, strings.Join(ref.Capabilities, ", "))
	}
}

func (a *app) printAck(label string, env *core.Envelope) {
	if msg, ok := env.Get("error").(string); ok {
		fmt.Fprintf(a.out, "%s: %s\n", label, color.RedString(msg))
		return
	}
	data := env.Get("data")
	if text, ok := data.(string); ok {
		fmt.Fprintf(a.out, "%s: %s\n", label, color.GreenString(text))
		return
	}
	fmt.Fprintf(a.out, "%s:\n", label)
	_ = a.printJSON(data)
}

func (a *app) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}

func displayName(id string, names map[string]string) string {
	if n, ok := names[id]; ok {
		return n + " (" + id + ")"
	}
	return id
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// toConfig turns --set values into config entries, decoding JSON scalars so
// "--set retries=3" stores a number.
func toConfig(settings map[string]string) map[string]interface{} {
	cfg := make(map[string]interface{}, len(settings))
	for k, raw := range settings {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		cfg[k] = v
	}
	return cfg
}
