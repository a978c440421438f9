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
	"path"
)

// CreateFlavorOpts describes a flavor. ID may be empty.
type CreateFlavorOpts struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	RAM       int    `json:"ram"`
	Disk      int    `json:"disk"`
	VCPUs     int    `json:"vcpus"`
	Swap      int    `json:"swap,omitempty"`
	Ephemeral int    `json:"OS-FLV-EXT-DATA:ephemeral,omitempty"`

	ExtraSpecs map[string]string `json:"-"`
}

type flavorEnvelope struct {
	Flavor Flavor `json:"flavor"`
}

type extraSpecsEnvelope struct {
	ExtraSpecs map[string]string `json:"extra_specs"`
}

// CreateFlavor creates a flavor and sets its extra specs.
func (c *Client) CreateFlavor(ctx context.Context, opts CreateFlavorOpts) (*Flavor, error) {
	var out flavorEnvelope
	if err := c.send(ctx, request{
		method:   http.MethodPost,
		service:  ServiceCompute,
		path:     "flavors",
		expected: []int{http.StatusOK},
		in:       map[string]any{"flavor": opts},
		out:      &out,
	}); err != nil {
		return nil, err
	}

	flavor := &out.Flavor
	if len(opts.ExtraSpecs) > 0 {
		specs, err := c.SetFlavorExtraSpecs(ctx, flavor.ID, opts.ExtraSpecs)
		if err != nil {
			return flavor, err
		}
		flavor.ExtraSpecs = specs
	}

	return flavor, nil
}

// GetFlavor returns a flavor.
func (c *Client) GetFlavor(ctx context.Context, id string) (*Flavor, error) {
	var out flavorEnvelope
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceCompute,
		path:     path.Join("flavors", id),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return &out.Flavor, nil
}

// DeleteFlavor deletes a flavor.
func (c *Client) DeleteFlavor(ctx context.Context, id string) error {
	return c.send(ctx, request{
		method:   http.MethodDelete,
		service:  ServiceCompute,
		path:     path.Join("flavors", id),
		expected: []int{http.StatusAccepted},
	})
}

// SetFlavorExtraSpecs adds or replaces extra specs and returns the ones set.
func (c *Client) SetFlavorExtraSpecs(ctx context.Context, id string, specs map[string]string) (map[string]string, error) {
	var out extraSpecsEnvelope
	if err := c.send(ctx, request{
		method:   http.MethodPost,
		service:  ServiceCompute,
		path:     path.Join("flavors", id, "os-extra_specs"),
		expected: []int{http.StatusOK},
		in:       extraSpecsEnvelope{ExtraSpecs: specs},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.ExtraSpecs, nil
}

// GetFlavorExtraSpecs returns every extra spec of a flavor.
func (c *Client) GetFlavorExtraSpecs(ctx context.Context, id string) (map[string]string, error) {
	var out extraSpecsEnvelope
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceCompute,
		path:     path.Join("flavors", id, "os-extra_specs"),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.ExtraSpecs, nil
}
