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

// Package virsh reads libvirt guest descriptors and host capabilities and
// exposes the parts of them the compute checks assert on.
package virsh

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/alexandremahdhaoui/whitebox/pkg/cpuspec"
	"github.com/alexandremahdhaoui/whitebox/pkg/hardware"
	"k8s.io/utils/cpuset"
	"libvirt.org/go/libvirtxml"
)

var (
	ErrParseDomain      = errors.New("parsing domain xml")
	ErrNoNovaMetadata   = errors.New("domain carries no nova metadata")
	ErrInterfaceMissing = errors.New("no interface with this mac address")
)

// Guest is a parsed domain descriptor.
type Guest struct {
	// Raw is the descriptor as returned by libvirt.
	Raw    string
	Domain *libvirtxml.Domain
	// Nova is nil when the domain was not defined by nova.
	Nova *NovaInstance
}

// ParseGuest parses a domain descriptor.
func ParseGuest(raw string) (*Guest, error) {
	domain := &libvirtxml.Domain{}
	if err := domain.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseDomain, err)
	}

	g := &Guest{Raw: raw, Domain: domain}

	if domain.Metadata != nil && strings.TrimSpace(domain.Metadata.XML) != "" {
		nova, err := parseNovaMetadata(domain.Metadata.XML)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseDomain, err)
		}
		g.Nova = nova
	}

	return g, nil
}

// Name returns the libvirt domain name, e.g. "instance-00000001".
func (g *Guest) Name() string {
	return g.Domain.Name
}

// VCPUPins maps each pinned vCPU to the host CPUs it may run on.
func (g *Guest) VCPUPins() (map[uint]cpuset.CPUSet, error) {
	out := make(map[uint]cpuset.CPUSet)
	if g.Domain.CPUTune == nil {
		return out, nil
	}

	for _, pin := range g.Domain.CPUTune.VCPUPin {
		set, err := cpuspec.Parse(pin.CPUSet)
		if err != nil {
			return nil, fmt.Errorf("vcpu %d: %w", pin.VCPU, err)
		}
		out[pin.VCPU] = set
	}

	return out, nil
}

// PinnedCPUs returns the union of the host CPUs of every vCPU pin.
func (g *Guest) PinnedCPUs() (cpuset.CPUSet, error) {
	pins, err := g.VCPUPins()
	if err != nil {
		return cpuset.New(), err
	}

	out := cpuset.New()
	for _, set := range pins {
		out = out.Union(set)
	}

	return out, nil
}

// EmulatorPin returns the host CPUs the emulator threads are pinned to. An
// unpinned emulator yields an empty set.
func (g *Guest) EmulatorPin() (cpuset.CPUSet, error) {
	if g.Domain.CPUTune == nil || g.Domain.CPUTune.EmulatorPin == nil {
		return cpuset.New(), nil
	}
	return cpuspec.Parse(g.Domain.CPUTune.EmulatorPin.CPUSet)
}

// Disks returns the disk devices attached on the given target bus. An empty
// bus returns every disk device.
func (g *Guest) Disks(bus string) []libvirtxml.DomainDisk {
	if g.Domain.Devices == nil {
		return nil
	}

	var out []libvirtxml.DomainDisk
	for _, d := range g.Domain.Devices.Disks {
		if d.Device != "" && d.Device != "disk" {
			continue
		}
		if bus != "" && (d.Target == nil || d.Target.Bus != bus) {
			continue
		}
		out = append(out, d)
	}

	return out
}

// RootDiskCache returns the cache mode of the first disk device.
func (g *Guest) RootDiskCache() (string, bool) {
	disks := g.Disks("")
	if len(disks) == 0 || disks[0].Driver == nil {
		return "", false
	}
	return disks[0].Driver.Cache, true
}

// Controllers returns the controllers of the given type, e.g. "scsi".
func (g *Guest) Controllers(typ string) []libvirtxml.DomainController {
	if g.Domain.Devices == nil {
		return nil
	}

	var out []libvirtxml.DomainController
	for _, c := range g.Domain.Devices.Controllers {
		if c.Type == typ {
			out = append(out, c)
		}
	}

	return out
}

// HasControllerModel reports whether a controller of the given type and model
// is attached.
func (g *Guest) HasControllerModel(typ, model string) bool {
	return slices.ContainsFunc(g.Controllers(typ), func(c libvirtxml.DomainController) bool {
		return c.Model == model
	})
}

// InterfaceByMAC returns the interface with the given mac address.
func (g *Guest) InterfaceByMAC(mac string) (*libvirtxml.DomainInterface, error) {
	if g.Domain.Devices != nil {
		for i := range g.Domain.Devices.Interfaces {
			iface := &g.Domain.Devices.Interfaces[i]
			if iface.MAC != nil && strings.EqualFold(iface.MAC.Address, mac) {
				return iface, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInterfaceMissing, mac)
}

// InterfaceType returns the libvirt type attribute of an interface.
func InterfaceType(iface *libvirtxml.DomainInterface) string {
	if iface == nil || iface.Source == nil {
		return ""
	}

	src := iface.Source
	switch {
	case src.Hostdev != nil:
		return "hostdev"
	case src.Direct != nil:
		return "direct"
	case src.Bridge != nil:
		return "bridge"
	case src.Network != nil:
		return "network"
	case src.VHostUser != nil:
		return "vhostuser"
	case src.Ethernet != nil:
		return "ethernet"
	}

	return ""
}

// InterfacePCIAddress returns the host PCI address backing a hostdev
// interface.
func InterfacePCIAddress(iface *libvirtxml.DomainInterface) (hardware.PCIAddress, error) {
	if iface == nil || iface.Source == nil || iface.Source.Hostdev == nil || iface.Source.Hostdev.PCI == nil {
		return hardware.PCIAddress{}, fmt.Errorf("%w: interface has no pci source", hardware.ErrInvalidPCIAddress)
	}
	return hardware.PCIAddressFromXML(iface.Source.Hostdev.PCI.Address)
}

// HostdevPCIAddresses returns the host addresses of the PCI devices passed
// through to the guest.
func (g *Guest) HostdevPCIAddresses() ([]hardware.PCIAddress, error) {
	if g.Domain.Devices == nil {
		return nil, nil
	}

	var out []hardware.PCIAddress
	for _, h := range g.Domain.Devices.Hostdevs {
		if h.SubsysPCI == nil || h.SubsysPCI.Source == nil {
			continue
		}
		addr, err := hardware.PCIAddressFromXML(h.SubsysPCI.Source.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}

	return out, nil
}

// Watchdogs returns the watchdog devices.
func (g *Guest) Watchdogs() []libvirtxml.DomainWatchdog {
	if g.Domain.Devices == nil {
		return nil
	}
	return g.Domain.Devices.Watchdogs
}

// HasInput reports whether an input device of the given type and bus exists.
// An empty bus matches any bus.
func (g *Guest) HasInput(typ, bus string) bool {
	if g.Domain.Devices == nil {
		return false
	}
	return slices.ContainsFunc(g.Domain.Devices.Inputs, func(in libvirtxml.DomainInput) bool {
		return in.Type == typ && (bus == "" || in.Bus == bus)
	})
}

// FileBackedShared reports whether guest memory is backed by a file and
// mapped shared.
func (g *Guest) FileBackedShared() bool {
	mb := g.Domain.MemoryBacking
	if mb == nil || mb.MemorySource == nil || mb.MemoryAccess == nil {
		return false
	}
	return mb.MemorySource.Type == "file" && mb.MemoryAccess.Mode == "shared"
}

// Hugepages reports whether guest memory is backed by hugepages.
func (g *Guest) Hugepages() bool {
	return g.Domain.MemoryBacking != nil && g.Domain.MemoryBacking.MemoryHugePages != nil
}

// CPUModel returns the mode of the guest CPU and its named model, if any.
// Both are empty when the descriptor has no cpu element.
func (g *Guest) CPUModel() (mode, model string) {
	cpu := g.Domain.CPU
	if cpu == nil {
		return "", ""
	}
	if cpu.Model != nil {
		model = cpu.Model.Value
	}
	return cpu.Mode, model
}

// CPUFeatures maps every CPU feature listed in the descriptor to its policy.
// libvirt treats an empty policy as "require".
func (g *Guest) CPUFeatures() map[string]string {
	out := make(map[string]string)
	if g.Domain.CPU == nil {
		return out
	}
	for _, f := range g.Domain.CPU.Features {
		policy := f.Policy
		if policy == "" {
			policy = "require"
		}
		out[f.Name] = policy
	}
	return out
}

// MissingCPUFeatures returns the names, in order, that the guest CPU does not
// enable. A feature with the "disable" or "forbid" policy is not enabled.
func (g *Guest) MissingCPUFeatures(names ...string) []string {
	features := g.CPUFeatures()

	var missing []string
	for _, name := range names {
		switch features[name] {
		case "", "disable", "forbid":
			missing = append(missing, name)
		}
	}
	return missing
}
