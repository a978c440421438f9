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
	"net/http"
	"net/url"
	"path"
	"slices"
)

// ListResourceProviders returns the resource providers matching filters,
// e.g. {"name": ...} or {"resources": "CUSTOM_PCI_X:1"}.
func (c *Client) ListResourceProviders(ctx context.Context, filters url.Values) ([]ResourceProvider, error) {
	var out struct {
		ResourceProviders []ResourceProvider `json:"resource_providers"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServicePlacement,
		path:     "resource_providers",
		params:   filters,
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.ResourceProviders, nil
}

// ResourceProviderByName returns the provider named name, usually the
// hypervisor hostname.
func (c *Client) ResourceProviderByName(ctx context.Context, name string) (*ResourceProvider, error) {
	rps, err := c.ListResourceProviders(ctx, url.Values{"name": {name}})
	if err != nil {
		return nil, err
	}
	for i := range rps {
		if rps[i].Name == name {
			return &rps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: resource provider %s", ErrNotFound, name)
}

// ResourceProviderTraits returns the sorted traits of a provider.
func (c *Client) ResourceProviderTraits(ctx context.Context, uuid string) ([]string, error) {
	var out struct {
		Traits []string `json:"traits"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServicePlacement,
		path:     path.Join("resource_providers", uuid, "traits"),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	slices.Sort(out.Traits)
	return out.Traits, nil
}

// ResourceProviderUsages returns the consumed amount per resource class.
func (c *Client) ResourceProviderUsages(ctx context.Context, uuid string) (map[string]int, error) {
	var out struct {
		Usages map[string]int `json:"usages"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServicePlacement,
		path:     path.Join("resource_providers", uuid, "usages"),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.Usages, nil
}

// Inventory is the capacity of one resource class of a provider.
type Inventory struct {
	Total           int     `json:"total"`
	Reserved        int     `json:"reserved"`
	AllocationRatio float64 `json:"allocation_ratio"`
}

// ResourceProviderInventories returns the inventories per resource class.
func (c *Client) ResourceProviderInventories(ctx context.Context, uuid string) (map[string]Inventory, error) {
	var out struct {
		Inventories map[string]Inventory `json:"inventories"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServicePlacement,
		path:     path.Join("resource_providers", uuid, "inventories"),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.Inventories, nil
}

// ListTraits returns the traits whose name starts with prefix.
func (c *Client) ListTraits(ctx context.Context, prefix string) ([]string, error) {
	params := url.Values{}
	if prefix != "" {
		params.Set("name", "startswith:"+prefix)
	}

	var out struct {
		Traits []string `json:"traits"`
	}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServicePlacement,
		path:     "traits",
		params:   params,
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out.Traits, nil
}

// CreateTrait creates a custom trait. Creating an existing trait succeeds.
func (c *Client) CreateTrait(ctx context.Context, name string) error {
	return c.send(ctx, request{
		method:   http.MethodPut,
		service:  ServicePlacement,
		path:     path.Join("traits", name),
		expected: []int{http.StatusCreated, http.StatusNoContent},
	})
}
