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

// Package hardware inspects the hardware of compute hosts: PCI addresses,
// NUMA topology, hugepages and CPU state.
package hardware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"libvirt.org/go/libvirtxml"
)

var ErrInvalidPCIAddress = errors.New("invalid PCI address")

// PCIAddress is a PCI address in domain:bus:slot.function form.
type PCIAddress struct {
	Domain   uint
	Bus      uint
	Slot     uint
	Function uint
}

// String renders the address as "0000:81:00.1".
func (a PCIAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Slot, a.Function)
}

// ParsePCIAddress parses "0000:81:00.1". Hex digits may be in any case.
func ParsePCIAddress(s string) (PCIAddress, error) {
	rest, fn, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return PCIAddress{}, fmt.Errorf("%w: %q: missing function", ErrInvalidPCIAddress, s)
	}

	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return PCIAddress{}, fmt.Errorf("%w: %q: expected domain:bus:slot.function", ErrInvalidPCIAddress, s)
	}

	var fields [4]uint
	for i, p := range append(parts, fn) {
		v, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return PCIAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidPCIAddress, s, err)
		}
		fields[i] = uint(v)
	}

	return PCIAddress{Domain: fields[0], Bus: fields[1], Slot: fields[2], Function: fields[3]}, nil
}

// PCIAddressFromXML converts the address element of a libvirt device.
func PCIAddressFromXML(addr *libvirtxml.DomainAddressPCI) (PCIAddress, error) {
	if addr == nil || addr.Domain == nil || addr.Bus == nil || addr.Slot == nil || addr.Function == nil {
		return PCIAddress{}, fmt.Errorf("%w: incomplete address element", ErrInvalidPCIAddress)
	}
	return PCIAddress{
		Domain:   *addr.Domain,
		Bus:      *addr.Bus,
		Slot:     *addr.Slot,
		Function: *addr.Function,
	}, nil
}

// MatchesAny reports whether a is one of addrs. Unparsable entries never match.
func (a PCIAddress) MatchesAny(addrs []string) bool {
	for _, s := range addrs {
		if other, err := ParsePCIAddress(s); err == nil && other == a {
			return true
		}
	}
	return false
}
