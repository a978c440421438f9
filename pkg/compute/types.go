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

package compute

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Server is the admin view of a server.
type Server struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`

	Host               string `json:"OS-EXT-SRV-ATTR:host,omitempty"`
	HypervisorHostname string `json:"OS-EXT-SRV-ATTR:hypervisor_hostname,omitempty"`
	InstanceName       string `json:"OS-EXT-SRV-ATTR:instance_name,omitempty"`
	TaskState          string `json:"OS-EXT-STS:task_state,omitempty"`
	VMState            string `json:"OS-EXT-STS:vm_state,omitempty"`

	Flavor    ServerFlavor            `json:"flavor"`
	TenantID  string                  `json:"tenant_id,omitempty"`
	UserID    string                  `json:"user_id,omitempty"`
	Metadata  map[string]string       `json:"metadata,omitempty"`
	Addresses map[string][]ServerAddr `json:"addresses,omitempty"`
	Fault     *ServerFault            `json:"fault,omitempty"`
}

// ServerFlavor is the flavor embedded in a server. Since microversion 2.47
// it carries the flavor values instead of a reference.
type ServerFlavor struct {
	ID           string            `json:"id,omitempty"`
	OriginalName string            `json:"original_name,omitempty"`
	VCPUs        int               `json:"vcpus,omitempty"`
	RAM          int               `json:"ram,omitempty"`
	Disk         int               `json:"disk,omitempty"`
	ExtraSpecs   map[string]string `json:"extra_specs,omitempty"`
}

type ServerAddr struct {
	Addr    string `json:"addr"`
	Version int    `json:"version"`
	MAC     string `json:"OS-EXT-IPS-MAC:mac_addr,omitempty"`
}

type ServerFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MACAddresses returns every mac address of the server ports.
func (s *Server) MACAddresses() []string {
	var out []string
	for _, addrs := range s.Addresses {
		for _, a := range addrs {
			if a.MAC != "" {
				out = append(out, a.MAC)
			}
		}
	}
	return out
}

// Flavor is a compute flavor.
type Flavor struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RAM       int     `json:"ram"`
	Disk      int     `json:"disk"`
	VCPUs     int     `json:"vcpus"`
	Swap      FlexInt `json:"swap"`
	Ephemeral int     `json:"OS-FLV-EXT-DATA:ephemeral"`
	Public    bool    `json:"os-flavor-access:is_public"`

	ExtraSpecs map[string]string `json:"extra_specs,omitempty"`
}

// FlexInt decodes integers that older microversions report as "" when zero.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("decoding %q as integer: %w", s, err)
		}
		*f = FlexInt(n)
		return nil
	}

	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// FlexID decodes identifiers that are integers before microversion 2.53 and
// UUID strings after.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// Hypervisor is a compute node as reported by the hypervisors API.
type Hypervisor struct {
	ID                 FlexID            `json:"id"`
	HypervisorHostname string            `json:"hypervisor_hostname"`
	HostIP             string            `json:"host_ip"`
	State              string            `json:"state"`
	Status             string            `json:"status"`
	Service            HypervisorService `json:"service"`
}

type HypervisorService struct {
	ID   FlexID `json:"id"`
	Host string `json:"host"`
}

// Service is a compute service record, e.g. one nova-compute.
type Service struct {
	ID     FlexID `json:"id"`
	Binary string `json:"binary"`
	Host   string `json:"host"`
	State  string `json:"state"`
	Status string `json:"status"`
	Zone   string `json:"zone"`
}

// ResourceProvider is a placement resource provider.
type ResourceProvider struct {
	UUID               string `json:"uuid"`
	Name               string `json:"name"`
	Generation         int    `json:"generation"`
	ParentProviderUUID string `json:"parent_provider_uuid,omitempty"`
	RootProviderUUID   string `json:"root_provider_uuid,omitempty"`
}
