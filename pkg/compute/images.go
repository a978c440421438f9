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
	"maps"
	"net/http"
	"path"
	"slices"
)

const imagePatchContentType = "application/openstack-images-v2.1-json-patch"

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// GetImage returns the image record, properties included.
func (c *Client) GetImage(ctx context.Context, id string) (map[string]any, error) {
	out := map[string]any{}
	if err := c.send(ctx, request{
		method:   http.MethodGet,
		service:  ServiceImage,
		path:     path.Join("images", id),
		expected: []int{http.StatusOK},
		out:      &out,
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// SetImageProperties adds or replaces image properties, e.g.
// hw_pointer_model. A nil value removes the property.
func (c *Client) SetImageProperties(ctx context.Context, id string, props map[string]*string) error {
	current, err := c.GetImage(ctx, id)
	if err != nil {
		return err
	}

	var ops []patchOp
	for _, k := range slices.Sorted(maps.Keys(props)) {
		_, exists := current[k]
		switch v := props[k]; {
		case v == nil && exists:
			ops = append(ops, patchOp{Op: "remove", Path: "/" + k})
		case v == nil:
		case exists:
			ops = append(ops, patchOp{Op: "replace", Path: "/" + k, Value: *v})
		default:
			ops = append(ops, patchOp{Op: "add", Path: "/" + k, Value: *v})
		}
	}
	if len(ops) == 0 {
		return nil
	}

	return c.send(ctx, request{
		method:   http.MethodPatch,
		service:  ServiceImage,
		path:     path.Join("images", id),
		headers:  http.Header{"Content-Type": {imagePatchContentType}},
		expected: []int{http.StatusOK},
		in:       ops,
	})
}
