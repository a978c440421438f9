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

package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"k8s.io/utils/cpuset"
)

// Hugepages is the hugepage accounting of one NUMA node.
type Hugepages struct {
	Total int
	Free  int
}

// NUMAClient reads the NUMA layout of a host.
type NUMAClient struct {
	client remote.Executor
}

func NewNUMAClient(client remote.Executor) *NUMAClient {
	return &NUMAClient{client: client}
}

func (n *NUMAClient) exec(ctx context.Context, cmd string) (string, error) {
	return n.client.Execute(ctx, execcontext.WithSudo(nil), cmd)
}

// Topology returns the CPUs of every NUMA node.
func (n *NUMAClient) Topology(ctx context.Context) (map[int]cpuset.CPUSet, error) {
	out, err := n.exec(ctx, "numactl -H")
	if err != nil {
		return nil, err
	}
	return ParseNumactl(out)
}

// NumCPUs returns the number of CPUs across every node.
func (n *NUMAClient) NumCPUs(ctx context.Context) (int, error) {
	topology, err := n.Topology(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, cpus := range topology {
		total += cpus.Size()
	}
	return total, nil
}

// Hugepages returns the hugepage accounting of every NUMA node.
func (n *NUMAClient) Hugepages(ctx context.Context) (map[int]Hugepages, error) {
	topology, err := n.Topology(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int]Hugepages, len(topology))
	for node := range topology {
		meminfo, err := n.exec(ctx, fmt.Sprintf("cat /sys/devices/system/node/node%d/meminfo", node))
		if err != nil {
			return nil, err
		}
		pages, err := ParseNodeMeminfo(meminfo)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", node, err)
		}
		out[node] = pages
	}
	return out, nil
}

// HugepageSize returns the default hugepage size in KiB.
func (n *NUMAClient) HugepageSize(ctx context.Context) (int, error) {
	out, err := n.exec(ctx, "cat /proc/meminfo")
	if err != nil {
		return 0, err
	}
	return ParseHugepageSize(out)
}

// ParseNumactl parses the "node N cpus: ..." lines of "numactl -H".
func ParseNumactl(out string) (map[int]cpuset.CPUSet, error) {
	topology := make(map[int]cpuset.CPUSet)

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != "node" || fields[2] != "cpus:" {
			continue
		}

		node, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parsing numactl node %q: %w", fields[1], err)
		}

		cpus := make([]int, 0, len(fields)-3)
		for _, f := range fields[3:] {
			cpu, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("parsing numactl cpu %q: %w", f, err)
			}
			cpus = append(cpus, cpu)
		}
		topology[node] = cpuset.New(cpus...)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(topology) == 0 {
		return nil, errors.New("no NUMA node found in numactl output")
	}
	return topology, nil
}

// ParseNodeMeminfo extracts HugePages_Total and HugePages_Free from a
// /sys/devices/system/node/nodeN/meminfo file.
func ParseNodeMeminfo(out string) (Hugepages, error) {
	var pages Hugepages
	var seenTotal, seenFree bool

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		// "Node 0 HugePages_Total:  4000"
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			continue
		}

		var dst *int
		switch fields[2] {
		case "HugePages_Total:":
			dst, seenTotal = &pages.Total, true
		case "HugePages_Free:":
			dst, seenFree = &pages.Free, true
		default:
			continue
		}

		v, err := strconv.Atoi(fields[3])
		if err != nil {
			return Hugepages{}, fmt.Errorf("parsing %s: %w", fields[2], err)
		}
		*dst = v
	}

	if !seenTotal || !seenFree {
		return Hugepages{}, errors.New("hugepage counters not found in node meminfo")
	}
	return pages, nil
}

// ParseHugepageSize returns the Hugepagesize value of /proc/meminfo in KiB.
func ParseHugepageSize(out string) (int, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "Hugepagesize:" {
			return strconv.Atoi(fields[1])
		}
	}
	return 0, errors.New("hugepage size not found in meminfo")
}
