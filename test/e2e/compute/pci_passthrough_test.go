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
	"net/url"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/database"
	"github.com/alexandremahdhaoui/whitebox/pkg/hardware"
	"github.com/alexandremahdhaoui/whitebox/pkg/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePCIPassthrough(t *testing.T) {
	t.Helper()
	if cfg.Hardware.PCIPassthroughAlias == "" {
		t.Skip("hardware.pciPassthroughAlias is not configured")
	}
	if len(cfg.Hardware.PCIPassthroughAddresses) == 0 {
		t.Skip("hardware.pciPassthroughAddresses is not configured")
	}
}

func pciFlavor(ctx context.Context, t *testing.T, s *suite.Suite) string {
	t.Helper()

	f, err := s.CreateFlavor(ctx, suite.FlavorOpts{
		ExtraSpecs: map[string]string{"pci_passthrough:alias": cfg.Hardware.PCIPassthroughAlias + ":1"},
	})
	require.NoError(t, err)
	return f.ID
}

// passthroughAddress returns the address of the single PCI device given to
// a server and checks it is one of the configured ones.
func passthroughAddress(ctx context.Context, t *testing.T, s *suite.Suite, serverID string) hardware.PCIAddress {
	t.Helper()

	guest, err := s.ServerXML(ctx, serverID)
	require.NoError(t, err)
	addrs, err := guest.HostdevPCIAddresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1, "expected exactly one PCI hostdev")
	assert.True(t, addrs[0].MatchesAny(cfg.Hardware.PCIPassthroughAddresses),
		"%s is not one of %v", addrs[0], cfg.Hardware.PCIPassthroughAddresses)
	return addrs[0]
}

func TestPCIPassthroughBoot(t *testing.T) {
	requirePCIPassthrough(t)
	s := newSuite(t)
	ctx := t.Context()

	server, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: pciFlavor(ctx, t, s)})
	require.NoError(t, err)
	addr := passthroughAddress(ctx, t, s, server.ID)

	err = s.DB.Cursor(ctx, cfg.Database.NovaCell1DBName, func(c *database.Cursor) error {
		rows, err := c.Query(ctx,
			"SELECT COUNT(*) AS allocated FROM pci_devices WHERE status = ? AND address = ? AND deleted = 0",
			"allocated", addr.String())
		if err != nil {
			return err
		}
		require.Len(t, rows, 1)
		n, err := rows[0].Int("allocated")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "%s should be allocated once", addr)
		return nil
	})
	require.NoError(t, err)
}

func TestPCIPassthroughPlacement(t *testing.T) {
	requirePCIPassthrough(t)
	rc := cfg.Hardware.PCIPassthroughResourceClass
	if rc == "" {
		t.Skip("hardware.pciPassthroughResourceClass is not configured")
	}
	s := newSuite(t)
	ctx := t.Context()

	rps, err := s.Compute.ListResourceProviders(ctx, url.Values{"resources": {rc + ":1"}})
	require.NoError(t, err)
	require.NotEmpty(t, rps, "no resource provider has %s", rc)

	used := func() int {
		total := 0
		for _, rp := range rps {
			usages, err := s.Compute.ResourceProviderUsages(ctx, rp.UUID)
			require.NoError(t, err)
			total += usages[rc]
		}
		return total
	}

	require.Zero(t, used(), "%s should not be in use", rc)

	server, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: pciFlavor(ctx, t, s)})
	require.NoError(t, err)
	assert.Equal(t, 1, used())
	passthroughAddress(ctx, t, s, server.ID)

	require.NoError(t, s.DeleteServer(ctx, server.ID))
	assert.Zero(t, used(), "%s should be released", rc)
}
