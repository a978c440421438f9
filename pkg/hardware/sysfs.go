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
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/alexandremahdhaoui/whitebox/pkg/cpuspec"
	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/kballard/go-shellquote"
	"k8s.io/utils/cpuset"
)

const sysfsRoot = "/sys"

// SysFSClient reads and writes sysfs attributes of a host. Paths are
// relative to /sys.
type SysFSClient struct {
	client remote.Executor
}

func NewSysFSClient(client remote.Executor) *SysFSClient {
	return &SysFSClient{client: client}
}

// Get returns the trimmed content of the attribute.
func (s *SysFSClient) Get(ctx context.Context, attr string) (string, error) {
	out, err := s.client.Execute(ctx, execcontext.WithSudo(nil), shellquote.Join("cat", path.Join(sysfsRoot, attr)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Set writes value to the attribute.
func (s *SysFSClient) Set(ctx context.Context, attr, value string) error {
	cmd := fmt.Sprintf("echo %s > %s", shellquote.Join(value), shellquote.Join(path.Join(sysfsRoot, attr)))
	_, err := s.client.Execute(ctx, execcontext.WithSudo(nil), cmd)
	return err
}

func (s *SysFSClient) cpus(ctx context.Context, attr string) (cpuset.CPUSet, error) {
	out, err := s.Get(ctx, attr)
	if err != nil {
		return cpuset.New(), err
	}
	return cpuspec.Parse(out)
}

// OnlineCPUs returns devices/system/cpu/online.
func (s *SysFSClient) OnlineCPUs(ctx context.Context) (cpuset.CPUSet, error) {
	return s.cpus(ctx, "devices/system/cpu/online")
}

// OfflineCPUs returns devices/system/cpu/offline.
func (s *SysFSClient) OfflineCPUs(ctx context.Context) (cpuset.CPUSet, error) {
	return s.cpus(ctx, "devices/system/cpu/offline")
}

// SetCPUOnline onlines or offlines one CPU.
func (s *SysFSClient) SetCPUOnline(ctx context.Context, cpu int, online bool) error {
	value := "0"
	if online {
		value = "1"
	}
	return s.Set(ctx, fmt.Sprintf("devices/system/cpu/cpu%d/online", cpu), value)
}
