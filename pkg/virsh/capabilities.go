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
	"errors"
	"fmt"

	"k8s.io/utils/cpuset"
	"libvirt.org/go/libvirtxml"
)

var ErrParseCapabilities = errors.New("parsing capabilities xml")

// ParseCapabilities parses the output of "virsh capabilities".
func ParseCapabilities(raw string) (*libvirtxml.Caps, error) {
	caps := &libvirtxml.Caps{}
	if err := caps.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseCapabilities, err)
	}
	return caps, nil
}

// NUMATopology maps each NUMA cell of the host to its CPUs.
func NUMATopology(caps *libvirtxml.Caps) map[int]cpuset.CPUSet {
	out := make(map[int]cpuset.CPUSet)
	if caps == nil || caps.Host.NUMA == nil || caps.Host.NUMA.Cells == nil {
		return out
	}

	for _, cell := range caps.Host.NUMA.Cells.Cells {
		ids := []int{}
		if cell.CPUS != nil {
			for _, cpu := range cell.CPUS.CPUs {
				ids = append(ids, cpu.ID)
			}
		}
		out[cell.ID] = cpuset.New(ids...)
	}

	return out
}

// PageCounts maps each NUMA cell to its page counts keyed by page size in KiB.
func PageCounts(caps *libvirtxml.Caps) map[int]map[int]uint64 {
	out := make(map[int]map[int]uint64)
	if caps == nil || caps.Host.NUMA == nil || caps.Host.NUMA.Cells == nil {
		return out
	}

	for _, cell := range caps.Host.NUMA.Cells.Cells {
		pages := make(map[int]uint64, len(cell.PageInfo))
		for _, p := range cell.PageInfo {
			pages[p.Size] = p.Count
		}
		out[cell.ID] = pages
	}

	return out
}
