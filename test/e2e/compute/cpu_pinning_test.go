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

	"github.com/alexandremahdhaoui/whitebox/pkg/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pinnedVCPUs = 2

func cpuPolicyFlavor(ctx context.Context, t *testing.T, s *suite.Suite, policy string) string {
	t.Helper()

	f, err := s.CreateFlavor(ctx, suite.FlavorOpts{
		VCPUs:      pinnedVCPUs,
		ExtraSpecs: map[string]string{"hw:cpu_policy": policy},
	})
	require.NoError(t, err)
	return f.ID
}

func vcpuPinCount(ctx context.Context, t *testing.T, s *suite.Suite, serverID string) int {
	t.Helper()

	guest, err := s.ServerXML(ctx, serverID)
	require.NoError(t, err)
	pins, err := guest.VCPUPins()
	require.NoError(t, err)
	return len(pins)
}

func TestCPUPolicy(t *testing.T) {
	s := newSuite(t)
	ctx := t.Context()

	t.Run("shared", func(t *testing.T) {
		flavor := cpuPolicyFlavor(ctx, t, s, "shared")
		_, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: flavor})
		require.NoError(t, err)
	})

	t.Run("dedicated", func(t *testing.T) {
		flavor := cpuPolicyFlavor(ctx, t, s, "dedicated")

		a, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: flavor})
		require.NoError(t, err)
		b, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: flavor})
		require.NoError(t, err)

		require.Equal(t, pinnedVCPUs, vcpuPinCount(ctx, t, s, a.ID), "server should be pinned")
		require.Equal(t, pinnedVCPUs, vcpuPinCount(ctx, t, s, b.ID), "server should be pinned")

		pinsA, err := s.PinnedCPUs(ctx, a.ID)
		require.NoError(t, err)
		pinsB, err := s.PinnedCPUs(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, pinsA.Intersection(pinsB).IsEmpty(),
			"unexpected overlap in CPU pinning: %s; %s", pinsA, pinsB)
	})

	t.Run("reboot keeps pinning", func(t *testing.T) {
		flavor := cpuPolicyFlavor(ctx, t, s, "dedicated")
		server, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: flavor})
		require.NoError(t, err)
		require.Equal(t, pinnedVCPUs, vcpuPinCount(ctx, t, s, server.ID))

		_, err = s.RebootServer(ctx, server.ID, true)
		require.NoError(t, err)

		// Some pinning must be in effect, not necessarily the same one.
		assert.Equal(t, pinnedVCPUs, vcpuPinCount(ctx, t, s, server.ID),
			"rebooted server lost its pinning")
	})
}

func TestCPUPolicyResize(t *testing.T) {
	if !cfg.ComputeFeatures.Resize {
		t.Skip("resize is not available")
	}
	s := newSuite(t)
	ctx := t.Context()

	for _, tc := range []struct {
		name       string
		from, to   string
		pinnedFrom int
		pinnedTo   int
	}{
		{name: "pinned to unpinned", from: "dedicated", to: "shared", pinnedFrom: pinnedVCPUs, pinnedTo: 0},
		{name: "unpinned to pinned", from: "shared", to: "dedicated", pinnedFrom: 0, pinnedTo: pinnedVCPUs},
	} {
		t.Run(tc.name, func(t *testing.T) {
			from := cpuPolicyFlavor(ctx, t, s, tc.from)
			to := cpuPolicyFlavor(ctx, t, s, tc.to)

			server, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: from})
			require.NoError(t, err)
			require.Equal(t, tc.pinnedFrom, vcpuPinCount(ctx, t, s, server.ID))

			_, err = s.ResizeServer(ctx, server.ID, to)
			require.NoError(t, err)
			assert.Equal(t, tc.pinnedTo, vcpuPinCount(ctx, t, s, server.ID))
		})
	}
}
