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
	"strings"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUModelExtraFlags(t *testing.T) {
	if cfg.Hardware.CPUModel == "" {
		t.Skip("no cpu model configured")
	}
	s := newSuite(t)
	ctx := t.Context()
	host := requireComputeHosts(t, s, 1)[0]

	nova, err := s.NovaServiceManager(host)
	require.NoError(t, err)
	scope := nova.Scope(
		opt("libvirt", "cpu_mode", "custom"),
		opt("libvirt", "cpu_models", cfg.Hardware.CPUModel),
		opt("libvirt", "cpu_model_extra_flags", strings.Join(cfg.Hardware.CPUModelExtraFlags, ",")),
	)

	require.NoError(t, scope(ctx, func(ctx context.Context) error {
		server, err := s.CreateServer(ctx, suite.ServerOpts{Host: host})
		require.NoError(t, err)

		guest, err := s.ServerXML(ctx, server.ID)
		require.NoError(t, err)

		mode, model := guest.CPUModel()
		assert.Equal(t, "custom", mode)
		assert.Equal(t, cfg.Hardware.CPUModel, model, "wrong cpu model in the guest descriptor")
		assert.Empty(t, guest.MissingCPUFeatures(cfg.Hardware.CPUModelExtraFlags...),
			"extra flags missing from the guest descriptor")

		return s.DeleteServer(ctx, server.ID)
	}))
}
