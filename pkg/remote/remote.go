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

// Package remote runs commands on control plane and compute hosts.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/internal/metrics"
	"github.com/alexandremahdhaoui/whitebox/internal/util/ssh"
	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/kballard/go-shellquote"
)

// Executor runs commands on a single host.
type Executor interface {
	Host() string
	Execute(ctx context.Context, ectx execcontext.Context, cmd string) (string, error)
}

// ContainerExecutor is an Executor able to target a named container.
type ContainerExecutor interface {
	Executor
	ContainerContext(container string) execcontext.Context
}

var _ ContainerExecutor = &Client{}

// Client binds an ssh.Runner to one host.
type Client struct {
	host   string
	runner ssh.Runner

	containers bool
	runtime    string
}

// New returns a Client running commands on host through runner. Whether
// services run in containers, and with which runtime, is read from cfg.
func New(host string, runner ssh.Runner, cfg config.WhiteboxConfig) *Client {
	return &Client{
		host:       host,
		runner:     runner,
		containers: cfg.Containers,
		runtime:    cfg.ContainerRuntime,
	}
}

// Host returns the name of the host the client runs commands on.
func (c *Client) Host() string {
	return c.host
}

// Execute runs cmd wrapped according to ectx and returns its stdout.
func (c *Client) Execute(ctx context.Context, ectx execcontext.Context, cmd string) (string, error) {
	start := time.Now()
	stdout, stderr, err := c.runner.Run(ctx, ectx, cmd)
	metrics.ObserveRemoteCommand(c.host, start, err)

	if err != nil {
		slog.DebugContext(ctx, "remote command failed",
			"host", c.host, "cmd", cmd, "stderr", strings.TrimSpace(stderr), "err", err.Error())
		return stdout, fmt.Errorf("executing %q on %s: %w", cmd, c.host, err)
	}

	slog.DebugContext(ctx, "remote command succeeded", "host", c.host, "cmd", cmd)
	return stdout, nil
}

// ExecuteSudo runs cmd with sudo.
func (c *Client) ExecuteSudo(ctx context.Context, cmd string) (string, error) {
	return c.Execute(ctx, execcontext.WithSudo(nil), cmd)
}

// ExecuteInContainer runs cmd as root inside container. When services do
// not run in containers the command runs on the host with sudo.
func (c *Client) ExecuteInContainer(ctx context.Context, container, cmd string) (string, error) {
	return c.Execute(ctx, c.ContainerContext(container), cmd)
}

// WriteFile writes content to path with sudo, creating the parent
// directory.
func WriteFile(ctx context.Context, e Executor, path, content string) error {
	sudo := execcontext.WithSudo(nil)

	if _, err := e.Execute(ctx, sudo, shellquote.Join("mkdir", "-p", filepath.Dir(path))); err != nil {
		return err
	}

	cmd := shellquote.Join("printf", "%s", content) + " > " + shellquote.Join(path)
	_, err := e.Execute(ctx, sudo, cmd)
	return err
}

// ContainerContext returns the execution context ExecuteInContainer uses.
func (c *Client) ContainerContext(container string) execcontext.Context {
	sudo := execcontext.WithSudo(nil)
	if !c.containers || container == "" {
		return sudo
	}
	return execcontext.WithContainer(sudo, c.runtime, container, "root")
}

// Dialer builds clients for hostnames known to the compute API.
type Dialer struct {
	cfg      *config.Config
	resolver *Resolver
	// NewRunner is overridable for tests.
	NewRunner func(addr string) (ssh.Runner, error)
}

// NewDialer returns a Dialer connecting with the SSH settings of cfg.
func NewDialer(cfg *config.Config) *Dialer {
	d := &Dialer{cfg: cfg, resolver: NewResolver(cfg)}
	d.NewRunner = d.sshRunner
	return d
}

// Resolver returns the resolver used by the dialer.
func (d *Dialer) Resolver() *Resolver {
	return d.resolver
}

// Dial resolves hostname and returns a client for it.
func (d *Dialer) Dial(hostname string) (*Client, error) {
	addr, err := d.resolver.Resolve(hostname)
	if err != nil {
		return nil, err
	}
	return d.DialAddress(hostname, addr)
}

// DialAddress returns a client for addr, logged and counted as name.
func (d *Dialer) DialAddress(name, addr string) (*Client, error) {
	runner, err := d.NewRunner(addr)
	if err != nil {
		return nil, err
	}
	return New(name, runner, d.cfg.Whitebox), nil
}

// SSHClient returns a configured ssh.Client for addr.
func (d *Dialer) SSHClient(addr string) (*ssh.Client, error) {
	wb := d.cfg.Whitebox
	client, err := ssh.NewClient(addr, wb.CtlplaneSSHUsername, wb.CtlplaneSSHPrivateKeyPath, strconv.Itoa(wb.CtlplaneSSHPort))
	if err != nil {
		return nil, err
	}
	client.Timeout = wb.SSHTimeout.Duration
	return client, nil
}

func (d *Dialer) sshRunner(addr string) (ssh.Runner, error) {
	return d.SSHClient(addr)
}
