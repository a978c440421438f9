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
	"net/http"
	"net/url"
	"path"
)

// CreateServerOpts describes a server to boot.
type CreateServerOpts struct {
	Name      string
	FlavorRef string
	// ImageRef may be empty when booting from a volume.
	ImageRef string
	// NetworkID attaches one port on this network. Empty requests no
	// networking.
	NetworkID string
	// Ports attaches pre-created ports, e.g. SR-IOV ports.
	Ports []string

	AvailabilityZone    string
	Metadata            map[string]string
	BlockDeviceMappings []BlockDeviceMapping
	SchedulerHints      map[string]any
}

// BlockDeviceMapping is one entry of block_device_mapping_v2.
type BlockDeviceMapping struct {
	BootIndex           int    `json:"boot_index"`
	UUID                string `json:"uuid,omitempty"`
	SourceType          string `json:"source_type"`
	DestinationType     string `json:"destination_type"`
	VolumeSize          int    `json:"volume_size,omitempty"`
	DeleteOnTermination bool   `json:"delete_on_termination"`
}

// VolumeBackedRoot boots imageRef on a fresh volume of size GiB.
func VolumeBackedRoot(imageRef string, size int) BlockDeviceMapping {
	return BlockDeviceMapping{
		BootIndex:           0,
		UUID:                imageRef,
		SourceType:          "image",
		DestinationType:     "volume",
		VolumeSize:          size,
		DeleteOnTermination: true,
	}
}

type createServerBody struct {
	Server struct {
		Name                string               `json:"name"`
		FlavorRef           string               `json:"flavorRef"`
		ImageRef            string               `json:"imageRef,omitempty"`
		Networks            any                  `json:"networks"`
		AvailabilityZone    string               `json:"availability_zone,omitempty"`
		Metadata            map[string]string    `json:"metadata,omitempty"`
		BlockDeviceMappings []BlockDeviceMapping `json:"block_device_mapping_v2,omitempty"`
	} `json:"server"`
	SchedulerHints map[string]any `json:"os:scheduler_hints,omitempty"`
}

type serverEnvelope struct {
	Server Server `json:"server"`
}

// CreateServer boots a server and returns its id. The server is not ACTIVE
// yet; see WaitForServerStatus.
func (c *Client) CreateServer(ctx context.Context, opts CreateServerOpts) (string, error) {
	body := createServerBody{SchedulerHints: opts.SchedulerHints}
	body.Server.Name = opts.Name
	body.Server.FlavorRef = opts.FlavorRef
	body.Server.ImageRef = opts.ImageRef
	body.Server.AvailabilityZone = opts.AvailabilityZone
	body.Server.Metadata = opts.Metadata
	body.Server.BlockDeviceMappings = opts.BlockDeviceMappings

	var networks []map[string]string
	if opts.NetworkID != "" {
		networks = append(networks, map[string]string{"uuid": opts.NetworkID})
	}
	for _, p := range opts.Ports {
		networks = append(networks, map[string]string{"port": p})
	}
	if len(networks) == 0 {
		body.Server.Networks = "none"
	} else {
		body.Server.Networks = networks
	}

	var out serverEnvelope
	if err := c.send(ctx, request{
		method:   http.MethodPost,
		service:  ServiceCompute,
		path:     "servers",
		expected: []int{http.StatusAccepted},
		in:       body,
		out:      &out,
	}); err != nil {
		return "", err
	}

	return out.Server.ID, nil
}

// GetServer returns the server. A deleted server yields ErrNotFound.
func (c *Client) GetServer(ctx context.Context, id string) (*Server, error) {
	var out serverEnvelope
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceCompute,
		path:     path.Join("servers", id),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return &out.Server, nil
}

// ListServers returns the servers matching filters, e.g. {"name": "^wb-"}.
func (c *Client) ListServers(ctx context.Context, filters url.Values) ([]Server, error) {
	var out struct {
		Servers []Server `json:"servers"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceCompute,
		path:     "servers/detail",
		params:   filters,
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// DeleteServer requests the deletion of a server.
func (c *Client) DeleteServer(ctx context.Context, id string) error {
	return c.send(ctx, request{
		method:   http.MethodDelete,
		service:  ServiceCompute,
		path:     path.Join("servers", id),
		expected: []int{http.StatusNoContent},
	})
}

func (c *Client) action(ctx context.Context, id string, body any, expected ...int) error {
	if len(expected) == 0 {
		expected = []int{http.StatusAccepted}
	}
	return c.send(ctx, request{
		method:   http.MethodPost,
		service:  ServiceCompute,
		path:     path.Join("servers", id, "action"),
		expected: expected,
		in:       body,
	})
}

// RebootServer reboots a server, hard or soft.
func (c *Client) RebootServer(ctx context.Context, id string, hard bool) error {
	typ := "SOFT"
	if hard {
		typ = "HARD"
	}
	return c.action(ctx, id, map[string]any{"reboot": map[string]string{"type": typ}})
}

// ResizeServer requests a resize to flavorRef. The server then waits in
// VERIFY_RESIZE for ConfirmResize.
func (c *Client) ResizeServer(ctx context.Context, id, flavorRef string) error {
	return c.action(ctx, id, map[string]any{"resize": map[string]string{"flavorRef": flavorRef}})
}

// ConfirmResize confirms a pending resize.
func (c *Client) ConfirmResize(ctx context.Context, id string) error {
	return c.action(ctx, id, map[string]any{"confirmResize": nil}, http.StatusNoContent)
}

// LiveMigrate moves a running server to host. An empty host lets the
// scheduler pick one.
func (c *Client) LiveMigrate(ctx context.Context, id, host string) error {
	params := map[string]any{"host": nil, "block_migration": "auto"}
	if host != "" {
		params["host"] = host
	}
	return c.action(ctx, id, map[string]any{"os-migrateLive": params})
}
