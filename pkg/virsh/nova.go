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

package virsh

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// NovaNamespace is the xml namespace of the metadata nova stores in domains.
const NovaNamespace = "http://openstack.org/xmlns/libvirt/nova/1.1"

// NovaInstance is the nova:instance metadata element.
type NovaInstance struct {
	Name         string      `xml:"name"`
	CreationTime string      `xml:"creationTime"`
	Flavor       *NovaFlavor `xml:"flavor"`
	Owner        *NovaOwner  `xml:"owner"`
	Root         *NovaRoot   `xml:"root"`
}

// NovaFlavor describes the flavor an instance was booted or resized with.
type NovaFlavor struct {
	Name       string          `xml:"name,attr"`
	ID         string          `xml:"id,attr"`
	Memory     int             `xml:"memory"`
	Disk       int             `xml:"disk"`
	Swap       int             `xml:"swap"`
	Ephemeral  int             `xml:"ephemeral"`
	VCPUs      int             `xml:"vcpus"`
	ExtraSpecs []NovaExtraSpec `xml:"extraSpecs>extraSpec"`
}

type NovaExtraSpec struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type NovaOwner struct {
	User    NovaRef `xml:"user"`
	Project NovaRef `xml:"project"`
}

type NovaRef struct {
	UUID string `xml:"uuid,attr"`
	Name string `xml:",chardata"`
}

type NovaRoot struct {
	Type string `xml:"type,attr"`
	UUID string `xml:"uuid,attr"`
}

// ExtraSpecsMap returns the flavor extra specs as a map.
func (f *NovaFlavor) ExtraSpecsMap() map[string]string {
	out := make(map[string]string, len(f.ExtraSpecs))
	for _, s := range f.ExtraSpecs {
		out[s.Name] = strings.TrimSpace(s.Value)
	}
	return out
}

// Fields returns the scalar flavor fields keyed by their element names.
func (f *NovaFlavor) Fields() map[string]string {
	return map[string]string{
		"memory":    strconv.Itoa(f.Memory),
		"disk":      strconv.Itoa(f.Disk),
		"swap":      strconv.Itoa(f.Swap),
		"ephemeral": strconv.Itoa(f.Ephemeral),
		"vcpus":     strconv.Itoa(f.VCPUs),
	}
}

type novaMetadata struct {
	Instance *NovaInstance `xml:"http://openstack.org/xmlns/libvirt/nova/1.1 instance"`
}

// parseNovaMetadata decodes the inner xml of a domain metadata element. A
// metadata element without a nova:instance child yields nil.
func parseNovaMetadata(inner string) (*NovaInstance, error) {
	md := novaMetadata{}
	if err := xml.Unmarshal([]byte("<metadata>"+inner+"</metadata>"), &md); err != nil {
		return nil, err
	}
	return md.Instance, nil
}
