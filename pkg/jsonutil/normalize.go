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

package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Normalize converts v into its generic JSON form and sorts every list,
// recursively, so that two values holding the same elements in a different
// order normalize to equal values. Numbers sort first, by value. Every other
// element sorts after them by the canonical encoding of its normalized form.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}

	return normalize(generic)
}

// Equal reports whether a and b are equal once normalized.
func Equal(a, b any) (bool, error) {
	na, err := Canonical(a)
	if err != nil {
		return false, err
	}
	nb, err := Canonical(b)
	if err != nil {
		return false, err
	}
	return na == nb, nil
}

// Canonical returns the encoding of the normalized form of v.
func Canonical(v any) (string, error) {
	n, err := Normalize(v)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encoding normalized value: %w", err)
	}
	return string(out), nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil

	case []any:
		type keyed struct {
			key   string
			num   *big.Float
			value any
		}

		items := make([]keyed, 0, len(t))
		for _, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			// encoding/json sorts map keys, so this is canonical.
			k, err := json.Marshal(n)
			if err != nil {
				return nil, fmt.Errorf("encoding list element: %w", err)
			}
			item := keyed{key: string(k), value: n}
			if num, ok := n.(json.Number); ok {
				item.num, _ = new(big.Float).SetString(num.String())
			}
			items = append(items, item)
		}

		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i], items[j]
			switch {
			case a.num != nil && b.num != nil:
				if c := a.num.Cmp(b.num); c != 0 {
					return c < 0
				}
				return a.key < b.key
			case a.num != nil:
				return true
			case b.num != nil:
				return false
			}
			return a.key < b.key
		})

		out := make([]any, len(items))
		for i := range items {
			out[i] = items[i].value
		}
		return out, nil

	default:
		return v, nil
	}
}
