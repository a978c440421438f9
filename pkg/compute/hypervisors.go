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

package compute

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
)

// ListHypervisors returns every hypervisor with its details.
func (c *Client) ListHypervisors(ctx context.Context) ([]Hypervisor, error) {
	var out struct {
		Hypervisors []Hypervisor `json:"hypervisors"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceCompute,
		path:     "os-hypervisors/detail",
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.Hypervisors, nil
}

// HypervisorAddresses maps each hypervisor id to its address. The host_ip
// reported by the API is replaced by the configured override when present.
func (c *Client) HypervisorAddresses(ctx context.Context) (map[string]string, error) {
	hypervisors, err := c.ListHypervisors(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(hypervisors))
	for _, h := range hypervisors {
		addr := h.HostIP
		if override, ok := c.hypervisorAddresses[string(h.ID)]; ok {
			addr = override
		}
		out[string(h.ID)] = addr
	}

	return out, nil
}

// HypervisorIP returns the address of the hypervisor whose service runs on
// host, preferring the configured override over the reported host_ip.
func (c *Client) HypervisorIP(ctx context.Context, host string) (string, error) {
	hypervisors, err := c.ListHypervisors(ctx)
	if err != nil {
		return "", err
	}

	for _, h := range hypervisors {
		if h.Service.Host != host {
			continue
		}
		if override, ok := c.hypervisorAddresses[string(h.ID)]; ok {
			slog.DebugContext(ctx, "using configured hypervisor address", "hypervisor", h.ID, "address", override)
			return override, nil
		}
		return h.HostIP, nil
	}

	return "", fmt.Errorf("%w: hypervisor for host %s", ErrNotFound, host)
}

// ComputeHosts returns the sorted service hosts of every enabled and up
// nova-compute.
func (c *Client) ComputeHosts(ctx context.Context) ([]string, error) {
	services, err := c.ListServices(ctx, "nova-compute", "")
	if err != nil {
		return nil, err
	}

	var hosts []string
	for _, s := range services {
		if s.State == "up" && s.Status == "enabled" {
			hosts = append(hosts, s.Host)
		}
	}
	slices.Sort(hosts)

	return hosts, nil
}

// ListServices returns the compute services, filtered by binary and host
// when they are not empty.
func (c *Client) ListServices(ctx context.Context, binary, host string) ([]Service, error) {
	params := url.Values{}
	if binary != "" {
		params.Set("binary", binary)
	}
	if host != "" {
		params.Set("host", host)
	}

	var out struct {
		Services []Service `json:"services"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceCompute,
		path:     "os-services",
		params:   params,
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// GetService returns the service running binary on host.
func (c *Client) GetService(ctx context.Context, host, binary string) (*Service, error) {
	services, err := c.ListServices(ctx, binary, host)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].Host == host && services[i].Binary == binary {
			return &services[i], nil
		}
	}
	return nil, fmt.Errorf("%w: service %s on %s", ErrNotFound, binary, host)
}
