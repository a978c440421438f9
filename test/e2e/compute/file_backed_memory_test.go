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
	"strconv"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/services"
	"github.com/alexandremahdhaoui/whitebox/pkg/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileBackedScope(t *testing.T, s *suite.Suite, host string) services.Scope {
	t.Helper()

	nova, err := s.NovaServiceManager(host)
	require.NoError(t, err)
	return nova.Scope(
		opt("libvirt", "file_backed_memory", strconv.Itoa(cfg.Whitebox.FileBackedMemorySize)),
		opt("DEFAULT", "ram_allocation_ratio", "1"),
	)
}

func assertFileBacked(ctx context.Context, t *testing.T, s *suite.Suite, serverID string) {
	t.Helper()

	guest, err := s.ServerXML(ctx, serverID)
	require.NoError(t, err)
	assert.True(t, guest.FileBackedShared(), "memory of %s should be backed by a shared file", serverID)
}

func TestFileBackedMemory(t *testing.T) {
	if cfg.Whitebox.FileBackedMemorySize == 0 {
		t.Skip("file backed memory is not enabled")
	}
	s := newSuite(t)
	host1, host2 := requireExactlyTwoHosts(t, s)
	both := services.Multi(fileBackedScope(t, s, host1), fileBackedScope(t, s, host2))

	t.Run("resize", func(t *testing.T) {
		if !cfg.ComputeFeatures.Resize {
			t.Skip("resize is not available")
		}
		ctx := t.Context()
		flavor, err := s.CreateFlavor(ctx, suite.FlavorOpts{VCPUs: 2, RAM: 256})
		require.NoError(t, err)

		require.NoError(t, both(ctx, func(ctx context.Context) error {
			server, err := s.CreateServer(ctx, suite.ServerOpts{})
			require.NoError(t, err)
			assertFileBacked(ctx, t, s, server.ID)

			_, err = s.ResizeServer(ctx, server.ID, flavor.ID)
			require.NoError(t, err)
			assertFileBacked(ctx, t, s, server.ID)
			return nil
		}))
	})

	t.Run("live migration", func(t *testing.T) {
		if !cfg.ComputeFeatures.LiveMigration {
			t.Skip("live migration is not available")
		}
		ctx := t.Context()

		require.NoError(t, both(ctx, func(ctx context.Context) error {
			server, err := s.CreateServer(ctx, suite.ServerOpts{})
			require.NoError(t, err)
			assertFileBacked(ctx, t, s, server.ID)

			_, err = s.LiveMigrate(ctx, server.ID, "")
			require.NoError(t, err)
			assertFileBacked(ctx, t, s, server.ID)
			return nil
		}))
	})

	t.Run("live migration to a file backed host", func(t *testing.T) {
		if !cfg.ComputeFeatures.LiveMigration {
			t.Skip("live migration is not available")
		}
		ctx := t.Context()

		server, err := s.CreateServer(ctx, suite.ServerOpts{})
		require.NoError(t, err)
		dest, err := s.HostOtherThan(ctx, server.Host)
		require.NoError(t, err)

		require.NoError(t, fileBackedScope(t, s, dest)(ctx, func(ctx context.Context) error {
			err := s.Compute.LiveMigrate(ctx, server.ID, dest)
			assert.Error(t, err, "migrating a guest without file backed memory should be refused")
			return nil
		}))
	})
}
