/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build unit

package jsonutil_test

import (
	"encoding/json"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/jsonutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_OrderInsensitive(t *testing.T) {
	a := map[string]any{
		"traits": []any{"CUSTOM_B", "CUSTOM_A"},
		"nested": []any{
			map[string]any{"id": 2, "tags": []any{"y", "x"}},
			map[string]any{"id": 1},
		},
	}
	b := map[string]any{
		"nested": []any{
			map[string]any{"id": 1},
			map[string]any{"tags": []any{"x", "y"}, "id": 2},
		},
		"traits": []any{"CUSTOM_A", "CUSTOM_B"},
	}

	equal, err := jsonutil.Equal(a, b)
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestNormalize_NumbersByValue(t *testing.T) {
	n, err := jsonutil.Normalize([]any{10, 9, 2, 1.5, -3, 1e2})
	require.NoError(t, err)
	assert.Equal(t, []any{
		json.Number("-3"), json.Number("1.5"), json.Number("2"),
		json.Number("9"), json.Number("10"), json.Number("100"),
	}, n)

	// Numbers come before every other kind of element.
	n, err = jsonutil.Normalize([]any{"b", 10, nil, "a", 2})
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("2"), json.Number("10"), "a", "b", nil}, n)
}

func TestNormalize_Idempotent(t *testing.T) {
	in := []any{3, "a", []any{2, 1}, map[string]any{"k": []any{"z", "a"}}, nil, true}

	once, err := jsonutil.Normalize(in)
	require.NoError(t, err)
	twice, err := jsonutil.Normalize(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestNormalize_Structs(t *testing.T) {
	type entry struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}

	equal, err := jsonutil.Equal(
		[]entry{{Name: "b", Items: []string{"2", "1"}}, {Name: "a"}},
		[]any{map[string]any{"name": "a", "items": nil}, map[string]any{"name": "b", "items": []any{"1", "2"}}},
	)
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestNormalize_DistinguishesValues(t *testing.T) {
	equal, err := jsonutil.Equal([]any{1, 2}, []any{1, 2, 2})
	require.NoError(t, err)
	assert.False(t, equal)

	equal, err = jsonutil.Equal(map[string]any{"a": "1"}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.False(t, equal)
}

func TestNormalize_Unencodable(t *testing.T) {
	_, err := jsonutil.Normalize(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
