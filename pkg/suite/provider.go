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

package suite

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

const (
	// ProviderSchemaVersion is the only provider config schema nova accepts.
	ProviderSchemaVersion = "1.0"
	// ComputeNodeSelector identifies the root provider of the local compute
	// node.
	ComputeNodeSelector = "$COMPUTE_NODE"

	providerFileName = "provider.yaml"
)

type ProviderConfig struct {
	Meta      ProviderMeta `yaml:"meta"`
	Providers []Provider   `yaml:"providers"`
}

type ProviderMeta struct {
	SchemaVersion string `yaml:"schema_version"`
}

type Provider struct {
	Identification ProviderIdentification `yaml:"identification"`
	Traits         *ProviderTraits        `yaml:"traits,omitempty"`
}

type ProviderIdentification struct {
	UUID string `yaml:"uuid,omitempty"`
	Name string `yaml:"name,omitempty"`
}

type ProviderTraits struct {
	// Additional trait names must start with CUSTOM_.
	Additional []string `yaml:"additional"`
}

// RenderProviderYAML returns a provider config adding traits to the local
// compute node.
func RenderProviderYAML(traits ...string) (string, error) {
	pc := ProviderConfig{
		Meta: ProviderMeta{SchemaVersion: ProviderSchemaVersion},
		Providers: []Provider{{
			Identification: ProviderIdentification{UUID: ComputeNodeSelector},
			Traits:         &ProviderTraits{Additional: traits},
		}},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pc); err != nil {
		return "", fmt.Errorf("rendering provider config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("rendering provider config: %w", err)
	}
	return buf.String(), nil
}

// ProviderYAMLPath returns where nova-compute reads the provider config.
func (s *Suite) ProviderYAMLPath() string {
	return path.Join(s.Config.Whitebox.ProviderConfigLocation, providerFileName)
}

// UploadProviderYAML writes a provider config adding traits on host and
// registers its removal followed by a nova-compute restart. nova-compute
// must be restarted by the caller for the traits to be applied.
func (s *Suite) UploadProviderYAML(ctx context.Context, host string, traits ...string) error {
	content, err := RenderProviderYAML(traits...)
	if err != nil {
		return err
	}

	client, err := s.Dialer.Dial(host)
	if err != nil {
		return err
	}

	p := s.ProviderYAMLPath()
	if err := remote.WriteFile(ctx, client, p, content); err != nil {
		return err
	}
	s.Cleanup.Add("provider.yaml on "+host, func(ctx context.Context) error {
		if _, err := client.ExecuteSudo(ctx, shellquote.Join("rm", "-f", p)); err != nil {
			return err
		}
		nova, err := s.NovaServiceManager(host)
		if err != nil {
			return err
		}
		return nova.Restart(ctx)
	})
	return nil
}
