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

package remote

import (
	"errors"
	"fmt"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
)

var ErrAddressResolution = errors.New("unable to resolve control plane address")

// AddressResolutionError is returned for a host missing from the configured
// control plane addresses.
type AddressResolutionError struct {
	Host string
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("%s: host %q is not in whitebox.ctlplaneAddresses", ErrAddressResolution, e.Host)
}

func (e *AddressResolutionError) Unwrap() error {
	return ErrAddressResolution
}

// Resolver maps compute hostnames to the addresses used to reach them.
type Resolver struct {
	addresses map[string]string
}

func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{addresses: cfg.Whitebox.CtlplaneAddresses}
}

// Resolve returns the control plane address of hostname.
func (r *Resolver) Resolve(hostname string) (string, error) {
	addr, ok := r.addresses[hostname]
	if !ok || addr == "" {
		return "", &AddressResolutionError{Host: hostname}
	}
	return addr, nil
}

// Hosts returns every hostname the resolver knows about.
func (r *Resolver) Hosts() []string {
	out := make([]string, 0, len(r.addresses))
	for h := range r.addresses {
		out = append(out, h)
	}
	return out
}
