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

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/pkg/cpuspec"
	"github.com/kballard/go-shellquote"
	"k8s.io/utils/cpuset"
	"k8s.io/utils/ptr"
)

// ServiceStateWaiter waits for a compute service to report a state.
type ServiceStateWaiter interface {
	WaitForServiceState(ctx context.Context, host, binary, state string) error
}

// NovaServiceManager manages nova-compute. After a restart it waits for the
// compute API to report the service up again.
type NovaServiceManager struct {
	*ServiceManager
}

// NewNovaServiceManager returns a manager for the nova-compute service of
// host. waiter may be nil, in which case only the grace period is observed.
// hostname is the name the compute API knows the host by.
func NewNovaServiceManager(
	client Executor,
	cfg *config.Config,
	hostname string,
	waiter ServiceStateWaiter,
) (*NovaServiceManager, error) {
	sm, err := NewServiceManager(client, cfg, config.NovaComputeService)
	if err != nil {
		return nil, err
	}

	if waiter != nil {
		sm.AfterRestart = func(ctx context.Context) error {
			return waiter.WaitForServiceState(ctx, hostname, "nova-compute", "up")
		}
	}

	return &NovaServiceManager{ServiceManager: sm}, nil
}

func (n *NovaServiceManager) cpuSet(ctx context.Context, key string) (cpuset.CPUSet, error) {
	v, err := n.GetOption(ctx, "compute", key)
	if err != nil {
		return cpuset.New(), err
	}
	if v == nil {
		return cpuset.New(), nil
	}
	return cpuspec.Parse(*v)
}

// CPUDedicatedSet returns [compute] cpu_dedicated_set. Absent means empty.
func (n *NovaServiceManager) CPUDedicatedSet(ctx context.Context) (cpuset.CPUSet, error) {
	return n.cpuSet(ctx, "cpu_dedicated_set")
}

// CPUSharedSet returns [compute] cpu_shared_set. Absent means empty.
func (n *NovaServiceManager) CPUSharedSet(ctx context.Context) (cpuset.CPUSet, error) {
	return n.cpuSet(ctx, "cpu_shared_set")
}

// CPUSetOptions returns options setting cpu_dedicated_set and cpu_shared_set.
// An empty set removes the option.
func CPUSetOptions(dedicated, shared cpuset.CPUSet) []Option {
	return []Option{
		{Section: "compute", Key: "cpu_dedicated_set", Value: formatSet(dedicated)},
		{Section: "compute", Key: "cpu_shared_set", Value: formatSet(shared)},
	}
}

func formatSet(set cpuset.CPUSet) *string {
	if set.IsEmpty() {
		return nil
	}
	return ptr.To(cpuspec.Format(set))
}

// NovaManage runs nova-manage on a control plane host.
type NovaManage struct {
	client    Executor
	container string
}

func NewNovaManage(client Executor, cfg *config.Config) *NovaManage {
	return &NovaManage{client: client, container: cfg.Whitebox.APIContainerName}
}

// Run executes nova-manage with args and returns its output.
func (n *NovaManage) Run(ctx context.Context, args ...string) (string, error) {
	cmd := "nova-manage " + shellquote.Join(args...)
	out, err := n.client.Execute(ctx, n.client.ContainerContext(n.container), strings.TrimSpace(cmd))
	if err != nil {
		return out, fmt.Errorf("nova-manage %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// RefreshQuotaUsages recomputes the quota usages of a project, optionally
// restricted to one user.
func (n *NovaManage) RefreshQuotaUsages(ctx context.Context, projectID, userID string) (string, error) {
	args := []string{"project", "quota_usage_refresh", "--project", projectID}
	if userID != "" {
		args = append(args, "--user", userID)
	}
	return n.Run(ctx, args...)
}

// ArchiveDeletedRows moves soft-deleted rows to the shadow tables.
func (n *NovaManage) ArchiveDeletedRows(ctx context.Context, maxRows int) (string, error) {
	return n.Run(ctx, "db", "archive_deleted_rows", "--max_rows", fmt.Sprint(maxRows), "--verbose")
}
