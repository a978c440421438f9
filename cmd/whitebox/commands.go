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
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/pkg/cpuspec"
	"github.com/alexandremahdhaoui/whitebox/pkg/database"
	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/alexandremahdhaoui/whitebox/pkg/hardware"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/alexandremahdhaoui/whitebox/pkg/services"
	"github.com/alexandremahdhaoui/whitebox/pkg/virsh"
	"github.com/go-logr/logr"
	"k8s.io/utils/ptr"
)

type environment struct {
	cfg    *config.Config
	dialer *remote.Dialer
	log    logr.Logger
}

func newEnvironment(cfg *config.Config, log logr.Logger) *environment {
	return &environment{cfg: cfg, dialer: remote.NewDialer(cfg), log: log}
}

func commands() map[string]command {
	var (
		sudo      bool
		container string
		pins      bool
		direct    bool
		restart   bool
	)

	return map[string]command{
		"validate": {
			run:     cmdValidate,
			summary: "validate",
		},
		"exec": {
			run: func(ctx context.Context, env *environment, args []string) error {
				return cmdExec(ctx, env, args, sudo, container)
			},
			nargs: 2,
			flags: func(fs *flag.FlagSet) {
				fs.BoolVar(&sudo, "sudo", false, "run the command with sudo")
				fs.StringVar(&container, "container", "", "run the command inside this container")
			},
			summary: "exec [--sudo] [--container NAME] <host> <command>",
		},
		"dumpxml": {
			run: func(ctx context.Context, env *environment, args []string) error {
				return cmdDumpXML(ctx, env, args, pins, direct)
			},
			nargs: 2,
			flags: func(fs *flag.FlagSet) {
				fs.BoolVar(&pins, "pins", false, "print the vCPU pinning instead of the XML")
				fs.BoolVar(&direct, "libvirt", false, "read through a read-only libvirt connection instead of virsh")
			},
			summary: "dumpxml [--pins] [--libvirt] <host> <domain>",
		},
		"capabilities": {
			run:     cmdCapabilities,
			nargs:   1,
			summary: "capabilities <host>",
		},
		"get-opt": {
			run:     cmdGetOpt,
			nargs:   4,
			summary: "get-opt <host> <service> <section> <key>",
		},
		"set-opt": {
			run: func(ctx context.Context, env *environment, args []string) error {
				return cmdSetOpt(ctx, env, args[:4], ptr.To(args[4]), restart)
			},
			nargs: 5,
			flags: func(fs *flag.FlagSet) {
				fs.BoolVar(&restart, "restart", false, "restart the service afterwards")
			},
			summary: "set-opt [--restart] <host> <service> <section> <key> <value>",
		},
		"del-opt": {
			run: func(ctx context.Context, env *environment, args []string) error {
				return cmdSetOpt(ctx, env, args, nil, restart)
			},
			nargs: 4,
			flags: func(fs *flag.FlagSet) {
				fs.BoolVar(&restart, "restart", false, "restart the service afterwards")
			},
			summary: "del-opt [--restart] <host> <service> <section> <key>",
		},
		"cpuspec": {
			run:     cmdCPUSpec,
			nargs:   1,
			summary: "cpuspec <spec>",
		},
		"numa": {
			run:     cmdNUMA,
			nargs:   1,
			summary: "numa <host>",
		},
		"db": {
			run:     cmdDB,
			nargs:   2,
			summary: "db <database> <query>",
		},
	}
}

func cmdValidate(_ context.Context, env *environment, _ []string) error {
	cfg := env.cfg
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	hosts := env.dialer.Resolver().Hosts()
	slices.Sort(hosts)

	fmt.Fprintf(w, "SSH USER\t%s\n", cfg.Whitebox.CtlplaneSSHUsername)
	fmt.Fprintf(w, "CONTAINERS\t%t (%s)\n", cfg.Whitebox.Containers, cfg.Whitebox.ContainerRuntime)
	fmt.Fprintf(w, "HOSTS\t%s\n", strings.Join(hosts, ","))
	fmt.Fprintf(w, "SERVICES\t%s\n", strings.Join(cfg.ServiceNames(), ","))
	fmt.Fprintf(w, "COMPUTE\t%s\n", cfg.Compute.AuthURL)
	fmt.Fprintf(w, "DATABASE\t%s\n", cfg.Database.Host)
	fmt.Fprintf(w, "CPUS\t%s\n", cpuspec.Format(cfg.AllCPUs()))
	return nil
}

func cmdExec(ctx context.Context, env *environment, args []string, sudo bool, container string) error {
	client, err := env.dialer.Dial(args[0])
	if err != nil {
		return err
	}

	var ectx execcontext.Context
	switch {
	case container != "":
		ectx = client.ContainerContext(container)
	case sudo:
		ectx = execcontext.WithSudo(nil)
	}

	out, err := client.Execute(ctx, ectx, strings.Join(args[1:], " "))
	fmt.Print(out)
	return err
}

func cmdDumpXML(ctx context.Context, env *environment, args []string, pins, direct bool) error {
	host, domain := args[0], args[1]

	var src virsh.Source
	if direct {
		addr, err := env.dialer.Resolver().Resolve(host)
		if err != nil {
			return err
		}
		wb := env.cfg.Whitebox
		src = virsh.NewLibvirtSource(virsh.LibvirtURI(wb.CtlplaneSSHUsername, addr, wb.CtlplaneSSHPrivateKeyPath))
	} else {
		client, err := env.dialer.Dial(host)
		if err != nil {
			return err
		}
		src = virsh.NewXMLClient(client, env.cfg.Whitebox)
	}

	guest, err := src.DumpXML(ctx, domain)
	if err != nil {
		return err
	}
	if !pins {
		fmt.Println(guest.Raw)
		return nil
	}

	vcpuPins, err := guest.VCPUPins()
	if err != nil {
		return err
	}
	vcpus := make([]uint, 0, len(vcpuPins))
	for v := range vcpuPins {
		vcpus = append(vcpus, v)
	}
	slices.Sort(vcpus)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "VCPU\tCPUSET")
	for _, v := range vcpus {
		fmt.Fprintf(w, "%d\t%s\n", v, cpuspec.Format(vcpuPins[v]))
	}
	if emulator, err := guest.EmulatorPin(); err == nil && !emulator.IsEmpty() {
		fmt.Fprintf(w, "emulator\t%s\n", cpuspec.Format(emulator))
	}
	return nil
}

func cmdCapabilities(ctx context.Context, env *environment, args []string) error {
	caps, err := virsh.NewFetcher(env.dialer, env.cfg.Whitebox).Capabilities(ctx, args[0])
	if err != nil {
		return err
	}

	topology := virsh.NUMATopology(caps)
	pages := virsh.PageCounts(caps)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "CELL\tCPUS\tPAGES")
	for _, cell := range sortedKeys(topology) {
		var counts []string
		for _, size := range sortedKeys(pages[cell]) {
			counts = append(counts, fmt.Sprintf("%dKiB:%d", size, pages[cell][size]))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", cell, cpuspec.Format(topology[cell]), strings.Join(counts, ","))
	}
	return nil
}

func serviceManager(env *environment, host, service string) (*services.ServiceManager, error) {
	client, err := env.dialer.Dial(host)
	if err != nil {
		return nil, err
	}
	return services.NewServiceManager(client, env.cfg, service)
}

func cmdGetOpt(ctx context.Context, env *environment, args []string) error {
	sm, err := serviceManager(env, args[0], args[1])
	if err != nil {
		return err
	}
	value, err := sm.GetOption(ctx, args[2], args[3])
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("%s: [%s] %s is not set", sm.ConfigPath(), args[2], args[3])
	}
	fmt.Println(*value)
	return nil
}

func cmdSetOpt(ctx context.Context, env *environment, args []string, value *string, restart bool) error {
	sm, err := serviceManager(env, args[0], args[1])
	if err != nil {
		return err
	}
	if err := sm.SetOption(ctx, args[2], args[3], value); err != nil {
		return err
	}
	env.log.Info("option updated", "host", args[0], "service", args[1],
		"option", services.Option{Section: args[2], Key: args[3], Value: value}.String())
	if restart {
		return sm.Restart(ctx)
	}
	return nil
}

func cmdCPUSpec(_ context.Context, _ *environment, args []string) error {
	set, err := cpuspec.Parse(args[0])
	if err != nil {
		return err
	}
	fmt.Println(cpuspec.Format(set))
	return nil
}

func cmdNUMA(ctx context.Context, env *environment, args []string) error {
	client, err := env.dialer.Dial(args[0])
	if err != nil {
		return err
	}
	numa := hardware.NewNUMAClient(client)

	topology, err := numa.Topology(ctx)
	if err != nil {
		return err
	}
	hugepages, err := numa.Hugepages(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "NODE\tCPUS\tHUGEPAGES TOTAL\tHUGEPAGES FREE")
	for _, node := range sortedKeys(topology) {
		hp := hugepages[node]
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", node, cpuspec.Format(topology[node]), hp.Total, hp.Free)
	}
	return nil
}

func cmdDB(ctx context.Context, env *environment, args []string) error {
	db := database.NewClient(env.cfg.Database, env.dialer)

	return db.Cursor(ctx, args[0], func(c *database.Cursor) error {
		rows, err := c.Query(ctx, args[1])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		for i, row := range rows {
			cols := row.Columns()
			if i == 0 {
				fmt.Fprintln(w, strings.ToUpper(strings.Join(cols, "\t")))
			}
			values := make([]string, 0, len(cols))
			for _, col := range cols {
				values = append(values, row.String(col))
			}
			fmt.Fprintln(w, strings.Join(values, "\t"))
		}
		return nil
	})
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
