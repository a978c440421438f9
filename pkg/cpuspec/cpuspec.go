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

// Package cpuspec parses the CPU specification strings used by Nova options
// such as cpu_dedicated_set, cpu_shared_set and vcpu_pin_set.
//
// A specification is a comma separated list of tokens. Each token is either a
// single index ("4"), an inclusive range ("0-3"), or one of those prefixed with
// "^" to exclude it. Exclusions are applied once every inclusion has been
// collected, so "^2,1-4" and "1-4,^2" describe the same set.
package cpuspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"
)

var ErrInvalidSpecification = errors.New("invalid cpu specification")

// InvalidSpecError reports the offending specification and token.
type InvalidSpecError struct {
	Spec   string
	Token  string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("%s %q: token %q: %s", ErrInvalidSpecification, e.Spec, e.Token, e.Reason)
}

func (e *InvalidSpecError) Unwrap() error {
	return ErrInvalidSpecification
}

// Parse returns the set of CPU indexes described by spec.
func Parse(spec string) (cpuset.CPUSet, error) {
	var include, exclude []int

	for _, raw := range strings.Split(spec, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}

		body, excluded := strings.CutPrefix(token, "^")
		cpus, reason := expandToken(strings.TrimSpace(body))
		if reason != "" {
			return cpuset.New(), &InvalidSpecError{Spec: spec, Token: token, Reason: reason}
		}

		if excluded {
			exclude = append(exclude, cpus...)
		} else {
			include = append(include, cpus...)
		}
	}

	return cpuset.New(include...).Difference(cpuset.New(exclude...)), nil
}

// MustParse is like Parse but panics on error. Meant for literals.
func MustParse(spec string) cpuset.CPUSet {
	set, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return set
}

// Format renders set in the canonical range notation, e.g. "0-2,5".
func Format(set cpuset.CPUSet) string {
	return set.String()
}

func expandToken(body string) ([]int, string) {
	if body == "" {
		return nil, "missing cpu index"
	}

	lo, hi, isRange := strings.Cut(body, "-")
	if !isRange {
		n, reason := parseIndex(body)
		if reason != "" {
			return nil, reason
		}
		return []int{n}, ""
	}

	start, reason := parseIndex(strings.TrimSpace(lo))
	if reason != "" {
		return nil, reason
	}
	end, reason := parseIndex(strings.TrimSpace(hi))
	if reason != "" {
		return nil, reason
	}
	if start > end {
		return nil, fmt.Sprintf("range start %d is greater than range end %d", start, end)
	}

	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, ""
}

func parseIndex(s string) (int, string) {
	if s == "" {
		return 0, "missing cpu index"
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Sprintf("%q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Sprintf("%d is negative", n)
	}
	return n, ""
}
