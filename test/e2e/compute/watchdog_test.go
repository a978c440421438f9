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
	"testing"

	"github.com/alexandremahdhaoui/whitebox/pkg/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogActionViaFlavor(t *testing.T) {
	s := newSuite(t)

	for _, action := range []string{"reset", "poweroff", "pause", "none", "disabled"} {
		t.Run(action, func(t *testing.T) {
			ctx := t.Context()

			flavor, err := s.CreateFlavor(ctx, suite.FlavorOpts{
				ExtraSpecs: map[string]string{"hw:watchdog_action": action},
			})
			require.NoError(t, err)
			server, err := s.CreateServer(ctx, suite.ServerOpts{FlavorRef: flavor.ID})
			require.NoError(t, err)

			guest, err := s.ServerXML(ctx, server.ID)
			require.NoError(t, err)
			watchdogs := guest.Watchdogs()

			if action == "disabled" {
				assert.Empty(t, watchdogs, "a disabled watchdog has no device")
				return
			}
			require.Len(t, watchdogs, 1)
			assert.Equal(t, action, watchdogs[0].Action)
		})
	}
}
