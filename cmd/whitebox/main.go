// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/internal/metrics"
	"github.com/alexandremahdhaoui/whitebox/internal/util/logging"
)

const Name = "whitebox"

const usage = `Usage: whitebox <command> [options] [args]

Commands:
  validate                                  Load and validate the configuration
  exec <host> <command>                     Run a command on a host
  dumpxml <host> <domain>                   Print the descriptor of a guest
  capabilities <host>                       Print the NUMA cells reported by libvirt
  get-opt <host> <service> <section> <key>  Print a service configuration option
  set-opt <host> <service> <section> <key> <value>
                                            Set a service configuration option
  del-opt <host> <service> <section> <key>  Delete a service configuration option
  cpuspec <spec>                            Expand a CPU spec such as "0-3,^2"
  numa <host>                               Print the NUMA topology and hugepages of a host
  db <database> <query>                     Run a query against the compute database

Every command accepts --config (default: $WHITEBOX_CONFIG_PATH).
Run "whitebox <command> -h" for the options of a command.

Environment Variables:
  WHITEBOX_CONFIG_PATH   Configuration file
  WHITEBOX_LOG_LEVEL     debug, info, warn or error
  WHITEBOX_DEV_MODE      Human readable logs (set to "true")
`

type command struct {
	run     func(ctx context.Context, env *environment, args []string) error
	nargs   int
	flags   func(fs *flag.FlagSet)
	summary string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		os.Exit(0)
	}

	cmd, ok := commands()[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", name)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	os.Exit(run(name, cmd, os.Args[2:]))
}

func run(name string, cmd command, argv []string) int {
	fs := flag.NewFlagSet(Name+" "+name, flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("WHITEBOX_CONFIG_PATH"), "configuration file")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: whitebox %s\n\n", cmd.summary)
		fs.PrintDefaults()
	}
	_ = fs.Parse(argv)

	if fs.NArg() < cmd.nargs {
		fmt.Fprintf(os.Stderr, "Error: '%s' requires %d argument(s)\n", name, cmd.nargs)
		fs.Usage()
		return 1
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logging.Setup(logging.Options{
		Development: cfg.Logging.Development,
		Level:       logging.ParseLevel(cfg.Logging.Level),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code := 0
	log = log.WithValues("command", name)
	log.V(1).Info("running command", "args", fs.Args())

	if err := cmd.run(ctx, newEnvironment(cfg, log), fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}

	if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}
	return code
}
