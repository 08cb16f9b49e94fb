// hello-agent answers greeting requests.
//
//	hello-agent --name hello_world
//
// Registry, transport and logging come from the AGENTRELAY_* environment or
// --config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	framework "github.com/itsneelabh/agentrelay"
)

func main() {
	flags := pflag.NewFlagSet("hello-agent", pflag.ContinueOnError)
	name := flags.String("name", "hello_world", "agent name")
	configFile := flags.String("config", "", "configuration file (.json, .yaml or .toml)")
	dev := flags.Bool("dev", false, "development mode")
	version := flags.Bool("version", false, "print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if *version {
		fmt.Println(framework.VersionString("hello-agent"))
		return
	}

	opts := []framework.Option{framework.WithName(*name)}
	if *configFile != "" {
		opts = append(opts, framework.WithConfigFile(*configFile))
	}
	if *dev {
		opts = append(opts, framework.WithDevelopmentMode(true))
	}

	if err := framework.RunAgent(&helloAgent{name: *name}, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "hello-agent: %v\n", err)
		os.Exit(1)
	}
}
