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

package cpuspec_test

import (
	"errors"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/cpuspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		expected []int
	}{
		{name: "single", spec: "3", expected: []int{3}},
		{name: "range", spec: "0-3", expected: []int{0, 1, 2, 3}},
		{name: "range with exclusion", spec: "1-4,^3,6", expected: []int{1, 2, 4, 6}},
		{name: "exclusion before inclusion", spec: "^2,1-4,6", expected: []int{1, 3, 4, 6}},
		{name: "excluded range", spec: "0-7,^2-5", expected: []int{0, 1, 6, 7}},
		{name: "empty tokens skipped", spec: "1,,3", expected: []int{1, 3}},
		{name: "whitespace trimmed", spec: " 1 , 2-3 ", expected: []int{1, 2, 3}},
		{name: "single element range", spec: "5-5", expected: []int{5}},
		{name: "everything excluded", spec: "1-2,^1-2", expected: []int{}},
		{name: "empty", spec: "", expected: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cpuspec.Parse(tt.spec)
			require.NoError(t, err)
			assert.True(t, cpuset.New(tt.expected...).Equals(got), "got %s", got.String())
		})
	}
}

func TestParseExclusionPrecedence(t *testing.T) {
	// The same tokens in any order describe the same set.
	a := cpuspec.MustParse("^2,1-4,6")
	b := cpuspec.MustParse("1-4,6,^2")
	c := cpuspec.MustParse("6,^2,1-4")

	assert.True(t, a.Equals(b))
	assert.True(t, b.Equals(c))
	assert.False(t, a.Contains(2))
	assert.Equal(t, []int{1, 3, 4, 6}, a.List())
}

func TestParseInvalid(t *testing.T) {
	for _, spec := range []string{"3-1", "a", "1-b", "^", "-1", "1-", "2,^x"} {
		t.Run(spec, func(t *testing.T) {
			_, err := cpuspec.Parse(spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, cpuspec.ErrInvalidSpecification))

			var specErr *cpuspec.InvalidSpecError
			require.True(t, errors.As(err, &specErr))
			assert.Equal(t, spec, specErr.Spec)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0-2,5", cpuspec.Format(cpuset.New(5, 0, 1, 2)))
	assert.Equal(t, "", cpuspec.Format(cpuset.New()))

	set := cpuspec.MustParse("8,^9,7-9")
	assert.Equal(t, "7-8", cpuspec.Format(set))
	assert.True(t, set.Equals(cpuspec.MustParse(cpuspec.Format(set))))
}
