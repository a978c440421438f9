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

package virsh

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/kballard/go-shellquote"
	"libvirt.org/go/libvirtxml"
)

// Source returns the descriptor of a running guest.
type Source interface {
	DumpXML(ctx context.Context, domain string) (*Guest, error)
}

// XMLClient runs virsh on a compute host, inside the libvirt container when
// the deployment is containerized.
type XMLClient struct {
	client    remote.ContainerExecutor
	container string
}

var _ Source = &XMLClient{}

// NewXMLClient returns a client running virsh through the given host client.
func NewXMLClient(client remote.ContainerExecutor, cfg config.WhiteboxConfig) *XMLClient {
	return &XMLClient{client: client, container: cfg.LibvirtContainerName}
}

func (c *XMLClient) virsh(ctx context.Context, args ...string) (string, error) {
	cmd := shellquote.Join(append([]string{"virsh"}, args...)...)
	return c.client.Execute(ctx, c.client.ContainerContext(c.container), cmd)
}

// DumpXML returns the live descriptor of the domain.
func (c *XMLClient) DumpXML(ctx context.Context, domain string) (*Guest, error) {
	out, err := c.virsh(ctx, "dumpxml", domain)
	if err != nil {
		return nil, err
	}
	return ParseGuest(out)
}

// Capabilities returns the host capabilities.
func (c *XMLClient) Capabilities(ctx context.Context) (*libvirtxml.Caps, error) {
	out, err := c.virsh(ctx, "capabilities")
	if err != nil {
		return nil, err
	}
	return ParseCapabilities(out)
}

// ListDomains returns the names of every domain defined on the host.
func (c *XMLClient) ListDomains(ctx context.Context) ([]string, error) {
	out, err := c.virsh(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	slices.Sort(names)

	return names, nil
}

// HostDialer opens a client to a compute host by name.
type HostDialer interface {
	Dial(hostname string) (*remote.Client, error)
}

// Fetcher resolves the host of a guest and reads its descriptor there.
type Fetcher struct {
	dialer HostDialer
	cfg    config.WhiteboxConfig
}

// NewFetcher returns a Fetcher dialing hosts through dialer.
func NewFetcher(dialer HostDialer, cfg config.WhiteboxConfig) *Fetcher {
	return &Fetcher{dialer: dialer, cfg: cfg}
}

// GuestXML returns the descriptor of instanceName running on host.
func (f *Fetcher) GuestXML(ctx context.Context, host, instanceName string) (*Guest, error) {
	client, err := f.dialer.Dial(host)
	if err != nil {
		return nil, fmt.Errorf("reading %s on %s: %w", instanceName, host, err)
	}
	return NewXMLClient(client, f.cfg).DumpXML(ctx, instanceName)
}

// Capabilities returns the capabilities of host.
func (f *Fetcher) Capabilities(ctx context.Context, host string) (*libvirtxml.Caps, error) {
	client, err := f.dialer.Dial(host)
	if err != nil {
		return nil, fmt.Errorf("reading capabilities of %s: %w", host, err)
	}
	return NewXMLClient(client, f.cfg).Capabilities(ctx)
}
