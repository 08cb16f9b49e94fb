// relayctl inspects and drives a running agent network.
//
//	relayctl list
//	relayctl discover <capability> [--how-many N | --all]
//	relayctl control <pause|resume|status|shutdown|update_config> [--to ID ...] [--set key=value ...]
//	relayctl request <capability> --payload '{"name":"World"}'
//
// Registry and transport come from the AGENTRELAY_* environment or --config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	framework "github.com/itsneelabh/agentrelay"
	"github.com/itsneelabh/agentrelay/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	global := pflag.NewFlagSet("relayctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configFile := global.String("config", "", "configuration file (.json, .yaml or .toml)")
	version := global.Bool("version", false, "print version and exit")
	global.Usage = func() { printUsage(global) }

	if err := global.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *version {
		fmt.Println(framework.VersionString("relayctl"))
		return nil
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(global)
		return fmt.Errorf("missing command")
	}

	opts := []framework.Option{
		framework.WithName("relayctl"),
		framework.WithLogLevel("warn"),
		framework.WithLogFormat("text"),
	}
	if *configFile != "" {
		opts = append(opts, framework.WithConfigFile(*configFile))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return err
	}
	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "relayctl")

	app := &app{config: cfg, logger: logger, out: os.Stdout}
	return app.dispatch(ctx, rest[0], rest[1:])
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `relayctl inspects and drives a running agent network.

Usage:
  relayctl [--config FILE] <command> [flags]

Commands:
  list                         every registered agent
  discover <capability>        agents offering a capability
  control <action>             send a control action to agents
  request <capability>         send a request and print the response

Global flags:
%s`, flags.FlagUsages())
}
