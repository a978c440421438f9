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

// Package suite composes the clients an environment test needs and tracks
// the resources it creates.
package suite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/internal/util/logging"
	"github.com/alexandremahdhaoui/whitebox/pkg/compute"
	"github.com/alexandremahdhaoui/whitebox/pkg/database"
	"github.com/alexandremahdhaoui/whitebox/pkg/hardware"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/alexandremahdhaoui/whitebox/pkg/services"
	"github.com/alexandremahdhaoui/whitebox/pkg/virsh"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/cpuset"
)

var (
	ErrNoServerHost    = errors.New("server has no host")
	ErrNoOtherHost     = errors.New("no other compute host")
	ErrNoController    = errors.New("whitebox.targetController is not configured")
	ErrServerNotPinned = errors.New("server has no pinned CPUs")
)

// Suite is what a test case composes. Every field is usable on its own.
type Suite struct {
	T       testing.TB
	Config  *config.Config
	Compute *compute.Client
	Cleanup *Cleanup
	Dialer  *remote.Dialer
	XML     *virsh.Fetcher
	DB      *database.Client
	Log     logr.Logger
}

// New authenticates against the compute API and returns a Suite whose
// cleanup registry runs when t completes. It fails t on error.
func New(t testing.TB, cfg *config.Config) *Suite {
	t.Helper()

	c, err := compute.New(t.Context(), cfg.Compute, compute.WithHypervisorAddresses(cfg.Whitebox.Hypervisors))
	if err != nil {
		t.Fatalf("connecting to the compute API: %v", err)
	}
	return NewWithCompute(t, cfg, c)
}

// NewWithCompute returns a Suite around an existing compute client.
func NewWithCompute(t testing.TB, cfg *config.Config, c *compute.Client) *Suite {
	dialer := remote.NewDialer(cfg)
	s := &Suite{
		T:       t,
		Config:  cfg,
		Compute: c,
		Cleanup: NewCleanup(t.Logf),
		Dialer:  dialer,
		XML:     virsh.NewFetcher(dialer, cfg.Whitebox),
		DB:      database.NewClient(cfg.Database, dialer),
		Log:     logging.Logger().WithValues("test", t.Name()),
	}

	// t.Context is already canceled when cleanups run.
	t.Cleanup(func() {
		_ = s.Cleanup.Run(context.Background())
	})
	return s
}

// RandName returns prefix followed by a random suffix.
func RandName(prefix string) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	if prefix == "" {
		return "whitebox-" + suffix
	}
	return prefix + "-" + suffix
}

// FlavorOpts describes a flavor created by CreateFlavor. Zero RAM and VCPUs
// take the configured defaults.
type FlavorOpts struct {
	Name       string
	RAM        int
	VCPUs      int
	Disk       int
	Swap       int
	Ephemeral  int
	ExtraSpecs map[string]string
}

// CreateFlavor creates a flavor and registers its deletion.
func (s *Suite) CreateFlavor(ctx context.Context, opts FlavorOpts) (*compute.Flavor, error) {
	if opts.Name == "" {
		opts.Name = RandName("whitebox-flavor")
	}
	if opts.RAM == 0 {
		opts.RAM = s.Config.Whitebox.FlavorRAMSize
	}
	if opts.VCPUs == 0 {
		opts.VCPUs = 2
	}

	f, err := s.Compute.CreateFlavor(ctx, compute.CreateFlavorOpts{
		Name:       opts.Name,
		RAM:        opts.RAM,
		VCPUs:      opts.VCPUs,
		Disk:       opts.Disk,
		Swap:       opts.Swap,
		Ephemeral:  opts.Ephemeral,
		ExtraSpecs: opts.ExtraSpecs,
	})
	if err != nil {
		return nil, err
	}
	s.Cleanup.Add("flavor "+f.ID, func(ctx context.Context) error {
		err := s.Compute.DeleteFlavor(ctx, f.ID)
		if errors.Is(err, compute.ErrNotFound) {
			return nil
		}
		return err
	})
	s.Log.V(1).Info("created flavor", "id", f.ID, "name", f.Name)
	return f, nil
}

// ServerOpts describes a server created by CreateServer. Empty image,
// flavor and network take the configured defaults.
type ServerOpts struct {
	Name      string
	FlavorRef string
	ImageRef  string
	NetworkID string
	Ports     []string
	// Host forces the server onto one compute host.
	Host                string
	Metadata            map[string]string
	BlockDeviceMappings []compute.BlockDeviceMapping
	SchedulerHints      map[string]any
	// Status is waited for. Defaults to ACTIVE.
	Status string
}

// CreateServer boots a server, registers its deletion and waits for it to
// reach the requested status. It returns the admin view of the server.
func (s *Suite) CreateServer(ctx context.Context, opts ServerOpts) (*compute.Server, error) {
	cfg := s.Compute.Config()
	if opts.Name == "" {
		opts.Name = RandName("whitebox-server")
	}
	if opts.FlavorRef == "" {
		opts.FlavorRef = cfg.FlavorRef
	}
	if opts.ImageRef == "" && len(opts.BlockDeviceMappings) == 0 {
		opts.ImageRef = cfg.ImageRef
	}
	if opts.NetworkID == "" && len(opts.Ports) == 0 {
		opts.NetworkID = cfg.NetworkID
	}
	if opts.Status == "" {
		opts.Status = "ACTIVE"
	}

	create := compute.CreateServerOpts{
		Name:                opts.Name,
		FlavorRef:           opts.FlavorRef,
		ImageRef:            opts.ImageRef,
		NetworkID:           opts.NetworkID,
		Ports:               opts.Ports,
		Metadata:            opts.Metadata,
		BlockDeviceMappings: opts.BlockDeviceMappings,
		SchedulerHints:      opts.SchedulerHints,
	}
	if opts.Host != "" {
		create.AvailabilityZone = "nova:" + opts.Host
	}

	id, err := s.Compute.CreateServer(ctx, create)
	if err != nil {
		return nil, err
	}
	s.Cleanup.Add("server "+id, func(ctx context.Context) error {
		return s.DeleteServer(ctx, id)
	})
	s.Log.V(1).Info("created server", "id", id, "name", opts.Name, "host", opts.Host)

	return s.Compute.WaitForServerStatus(ctx, id, opts.Status)
}

// DeleteServer deletes a server and waits until it is gone. Deleting a
// server that no longer exists succeeds.
func (s *Suite) DeleteServer(ctx context.Context, id string) error {
	if err := s.Compute.DeleteServer(ctx, id); err != nil {
		if errors.Is(err, compute.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Compute.WaitForServerTermination(ctx, id)
}

// ResizeServer resizes a server to flavorRef, confirms the resize and waits
// for the server to be ACTIVE again.
func (s *Suite) ResizeServer(ctx context.Context, id, flavorRef string) (*compute.Server, error) {
	if err := s.Compute.ResizeServer(ctx, id, flavorRef); err != nil {
		return nil, err
	}
	if _, err := s.Compute.WaitForServerStatus(ctx, id, "VERIFY_RESIZE"); err != nil {
		return nil, err
	}
	if err := s.Compute.ConfirmResize(ctx, id); err != nil {
		return nil, err
	}
	return s.Compute.WaitForServerStatus(ctx, id, "ACTIVE")
}

// RebootServer reboots a server and waits for it to be ACTIVE. The wait may
// observe ACTIVE before the reboot task is picked up.
func (s *Suite) RebootServer(ctx context.Context, id string, hard bool) (*compute.Server, error) {
	if err := s.Compute.RebootServer(ctx, id, hard); err != nil {
		return nil, err
	}
	return s.Compute.WaitForServerStatus(ctx, id, "ACTIVE")
}

// LiveMigrate migrates a server to host and waits until it runs there. An
// empty host lets the scheduler choose, in which case the server must leave
// its current host.
func (s *Suite) LiveMigrate(ctx context.Context, id, host string) (*compute.Server, error) {
	if host == "" {
		current, err := s.HostForServer(ctx, id)
		if err != nil {
			return nil, err
		}
		if host, err = s.HostOtherThan(ctx, current); err != nil {
			return nil, err
		}
	}
	if err := s.Compute.LiveMigrate(ctx, id, host); err != nil {
		return nil, err
	}
	if _, err := s.Compute.WaitForServerHost(ctx, id, host); err != nil {
		return nil, err
	}
	return s.Compute.WaitForServerStatus(ctx, id, "ACTIVE")
}

// HostForServer returns the compute host a server runs on.
func (s *Suite) HostForServer(ctx context.Context, id string) (string, error) {
	server, err := s.Compute.GetServer(ctx, id)
	if err != nil {
		return "", err
	}
	if server.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrNoServerHost, id)
	}
	return server.Host, nil
}

// ComputeHosts returns the enabled compute hosts that are up.
func (s *Suite) ComputeHosts(ctx context.Context) ([]string, error) {
	return s.Compute.ComputeHosts(ctx)
}

// HostOtherThan returns a compute host different from host.
func (s *Suite) HostOtherThan(ctx context.Context, host string) (string, error) {
	hosts, err := s.ComputeHosts(ctx)
	if err != nil {
		return "", err
	}
	for _, h := range hosts {
		if h != host {
			return h, nil
		}
	}
	return "", fmt.Errorf("%w than %s", ErrNoOtherHost, host)
}

// ServerXML returns the guest descriptor of a server, read on its host.
func (s *Suite) ServerXML(ctx context.Context, id string) (*virsh.Guest, error) {
	server, err := s.Compute.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	if server.Host == "" || server.InstanceName == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoServerHost, id)
	}
	return s.XML.GuestXML(ctx, server.Host, server.InstanceName)
}

// PinnedCPUs returns the host CPUs the vCPUs of a server are pinned to.
func (s *Suite) PinnedCPUs(ctx context.Context, id string) (cpuset.CPUSet, error) {
	guest, err := s.ServerXML(ctx, id)
	if err != nil {
		return cpuset.New(), err
	}
	cpus, err := guest.PinnedCPUs()
	if err != nil {
		return cpuset.New(), err
	}
	if cpus.IsEmpty() {
		return cpus, fmt.Errorf("%w: %s", ErrServerNotPinned, id)
	}
	return cpus, nil
}

// AllCPUs returns every host CPU of the configured topology.
func (s *Suite) AllCPUs() cpuset.CPUSet {
	return s.Config.AllCPUs()
}

// ServiceManager returns a manager for service on host.
func (s *Suite) ServiceManager(host, service string) (*services.ServiceManager, error) {
	client, err := s.Dialer.Dial(host)
	if err != nil {
		return nil, err
	}
	return services.NewServiceManager(client, s.Config, service)
}

// NovaServiceManager returns a manager for nova-compute on host that waits
// for the service to report up after each restart.
func (s *Suite) NovaServiceManager(host string) (*services.NovaServiceManager, error) {
	client, err := s.Dialer.Dial(host)
	if err != nil {
		return nil, err
	}
	return services.NewNovaServiceManager(client, s.Config, host, s.Compute)
}

// SysFS returns a sysfs client for host.
func (s *Suite) SysFS(host string) (*hardware.SysFSClient, error) {
	client, err := s.Dialer.Dial(host)
	if err != nil {
		return nil, err
	}
	return hardware.NewSysFSClient(client), nil
}

// NUMA returns a NUMA topology client for host.
func (s *Suite) NUMA(host string) (*hardware.NUMAClient, error) {
	client, err := s.Dialer.Dial(host)
	if err != nil {
		return nil, err
	}
	return hardware.NewNUMAClient(client), nil
}

// NovaManage returns a nova-manage runner on the configured controller.
func (s *Suite) NovaManage() (*services.NovaManage, error) {
	host := s.Config.Whitebox.TargetController
	if host == "" {
		return nil, ErrNoController
	}
	client, err := s.Dialer.Dial(host)
	if err != nil {
		return nil, err
	}
	return services.NewNovaManage(client, s.Config), nil
}
