//go:build e2e

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

package compute_test

import (
	"context"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/compute"
	"github.com/alexandremahdhaoui/whitebox/pkg/cpuspec"
	"github.com/alexandremahdhaoui/whitebox/pkg/services"
	"github.com/alexandremahdhaoui/whitebox/pkg/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
)

func requireLiveMigration(t *testing.T, s *suite.Suite) {
	t.Helper()
	if !cfg.ComputeFeatures.LiveMigration {
		t.Skip("live migration is not available")
	}
	requireComputeHosts(t, s, 2)
}

func TestVolumeBackedLiveMigration(t *testing.T) {
	s := newSuite(t)
	requireLiveMigration(t, s)
	if !cfg.ComputeFeatures.VolumeBackedLiveMigration {
		t.Skip("volume backed live migration is not available")
	}
	ctx := t.Context()

	server, err := s.CreateServer(ctx, suite.ServerOpts{
		BlockDeviceMappings: []compute.BlockDeviceMapping{
			compute.VolumeBackedRoot(cfg.Compute.ImageRef, 1),
		},
	})
	require.NoError(t, err)

	rootDiskCache := func() string {
		guest, err := s.ServerXML(ctx, server.ID)
		require.NoError(t, err)
		cache, ok := guest.RootDiskCache()
		require.True(t, ok, "root disk has no cache mode")
		return cache
	}

	// The initial cache mode depends on the storage in use.
	before := rootDiskCache()

	source := server.Host
	dest, err := s.HostOtherThan(ctx, source)
	require.NoError(t, err)
	s.Log.Info("live migrating", "server", server.ID, "from", source, "to", dest)

	_, err = s.LiveMigrate(ctx, server.ID, dest)
	require.NoError(t, err)
	assert.Equal(t, before, rootDiskCache(), "cache mode changed during live migration")
}

func TestLiveMigrateAndReboot(t *testing.T) {
	s := newSuite(t)
	requireLiveMigration(t, s)
	ctx := t.Context()

	if len(cfg.Hardware.CPUTopology) == 0 {
		t.Skip("hardware.cpuTopology is not configured")
	}
	cpus := s.AllCPUs().List()
	if len(cpus) < 4 {
		t.Skip("requires 4 or more host CPUs")
	}
	host1, host2 := requireExactlyTwoHosts(t, s)

	// Distinct dedicated sets make the guest descriptor change with the
	// host.
	sets := map[string]cpuset.CPUSet{
		host1: cpuset.New(cpus[:2]...),
		host2: cpuset.New(cpus[2:4]...),
	}

	var scopes []services.Scope
	for _, host := range []string{host1, host2} {
		nova, err := s.NovaServiceManager(host)
		require.NoError(t, err)
		scopes = append(scopes, nova.Scope(opt("compute", "cpu_dedicated_set", cpuspec.Format(sets[host]))))
	}

	flavor, err := s.CreateFlavor(ctx, suite.FlavorOpts{
		VCPUs:      2,
		ExtraSpecs: map[string]string{"hw:cpu_policy": "dedicated"},
	})
	require.NoError(t, err)

	err = services.Multi(scopes...)(ctx, func(ctx context.Context) error {
		server, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: flavor.ID})
		require.NoError(t, err)

		before, err := s.PinnedCPUs(ctx, server.ID)
		require.NoError(t, err)

		dest, err := s.HostOtherThan(ctx, server.Host)
		require.NoError(t, err)
		_, err = s.LiveMigrate(ctx, server.ID, dest)
		require.NoError(t, err)

		after, err := s.PinnedCPUs(ctx, server.ID)
		require.NoError(t, err)
		assert.True(t, after.Intersection(before).IsEmpty(),
			"pinned CPUs %s after migration should differ from %s before", after, before)

		// A failed soft reboot falls back to a hard one, which is only
		// visible in the compute logs.
		_, err = s.RebootServer(ctx, server.ID, false)
		require.NoError(t, err)

		rebooted, err := s.PinnedCPUs(ctx, server.ID)
		require.NoError(t, err)
		assert.True(t, rebooted.Equals(after),
			"pinned CPUs changed across soft reboot: %s then %s", after, rebooted)

		return s.DeleteServer(ctx, server.ID)
	})
	require.NoError(t, err)
}
