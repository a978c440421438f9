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
	"context"
	"errors"
	"fmt"
	"net/url"

	"libvirt.org/go/libvirt"
)

var ErrLibvirtConnect = errors.New("connecting to libvirt")

// LibvirtURI returns the read-only qemu+ssh URI of a compute host.
func LibvirtURI(user, addr, keyfile string) string {
	q := url.Values{}
	if keyfile != "" {
		q.Set("keyfile", keyfile)
	}
	q.Set("no_verify", "1")

	u := url.URL{
		Scheme:   "qemu+ssh",
		User:     url.User(user),
		Host:     addr,
		Path:     "/system",
		RawQuery: q.Encode(),
	}

	return u.String()
}

// LibvirtSource reads guest descriptors over a read-only libvirt connection
// instead of shelling out to virsh.
type LibvirtSource struct {
	uri string
}

var _ Source = &LibvirtSource{}

// NewLibvirtSource returns a Source bound to uri.
func NewLibvirtSource(uri string) *LibvirtSource {
	return &LibvirtSource{uri: uri}
}

// URI returns the libvirt connection URI.
func (s *LibvirtSource) URI() string {
	return s.uri
}

// DumpXML implements Source. libvirt calls do not take a context; ctx is only
// checked before connecting.
func (s *LibvirtSource) DumpXML(ctx context.Context, domain string) (*Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := libvirt.NewConnectReadOnly(s.uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLibvirtConnect, s.uri, err)
	}
	defer func() { _, _ = conn.Close() }()

	dom, err := conn.LookupDomainByName(domain)
	if err != nil {
		return nil, fmt.Errorf("looking up domain %s: %w", domain, err)
	}
	defer func() { _ = dom.Free() }()

	raw, err := dom.GetXMLDesc(0)
	if err != nil {
		return nil, fmt.Errorf("reading domain %s: %w", domain, err)
	}

	return ParseGuest(raw)
}
