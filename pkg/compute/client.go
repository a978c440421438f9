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

// Package compute is a thin client of the compute, placement and image APIs
// covering what the whitebox checks need: servers, flavors, hypervisors,
// services, image properties and resource providers.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/go-goose/goose/v5/client"
	gooseerrors "github.com/go-goose/goose/v5/errors"
	goosehttp "github.com/go-goose/goose/v5/http"
	"github.com/go-goose/goose/v5/identity"
	"github.com/google/uuid"
)

const (
	ServiceCompute   = "compute"
	ServicePlacement = "placement"
	ServiceImage     = "image"

	NovaMicroversionHeader      = "X-OpenStack-Nova-API-Version"
	PlacementMicroversionHeader = "OpenStack-API-Version"
	RequestIDHeader             = "X-OpenStack-Request-ID"
)

var (
	ErrUnauthorized = errors.New("compute api authentication failed")
	ErrNotFound     = errors.New("resource not found")
	ErrRequest      = errors.New("compute api request failed")
)

// Requester sends one API request. client.AuthenticatingClient satisfies it.
type Requester interface {
	SendRequest(method, svcType, apiVersion, url string, requestData *goosehttp.RequestData) error
}

// Client wraps a Requester with typed operations.
type Client struct {
	req Requester
	cfg config.ComputeConfig

	// hypervisorAddresses overrides the host_ip of a hypervisor, by id.
	hypervisorAddresses map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHypervisorAddresses overrides the addresses reported for hypervisors.
func WithHypervisorAddresses(addrs map[string]string) Option {
	return func(c *Client) {
		c.hypervisorAddresses = addrs
	}
}

// Credentials maps the configuration to goose credentials. Keystone v3 is
// selected whenever a domain is configured.
func Credentials(cfg config.ComputeConfig) (*identity.Credentials, identity.AuthMode) {
	creds := &identity.Credentials{
		URL:           cfg.AuthURL,
		User:          cfg.Username,
		Secrets:       cfg.Password,
		Region:        cfg.Region,
		TenantName:    cfg.ProjectName,
		UserDomain:    cfg.UserDomainName,
		ProjectDomain: cfg.ProjectDomainName,
	}

	mode := identity.AuthUserPass
	if cfg.UserDomainName != "" || cfg.ProjectDomainName != "" {
		mode = identity.AuthUserPassV3
	}

	return creds, mode
}

// New authenticates against the identity service and returns a Client.
func New(ctx context.Context, cfg config.ComputeConfig, opts ...Option) (*Client, error) {
	creds, mode := Credentials(cfg)
	gc := client.NewClient(creds, mode, nil)

	if err := gc.Authenticate(); err != nil {
		slog.DebugContext(ctx, "authenticate failed", "url", cfg.AuthURL, "error", err.Error())
		if gooseerrors.IsUnauthorised(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: authenticating: %v", ErrRequest, err)
	}

	return NewWithRequester(gc, cfg, opts...), nil
}

// NewWithRequester returns a Client sending requests through req.
func NewWithRequester(req Requester, cfg config.ComputeConfig, opts ...Option) *Client {
	c := &Client{req: req, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the compute configuration of the client.
func (c *Client) Config() config.ComputeConfig {
	return c.cfg
}

type request struct {
	method   string
	service  string
	path     string
	params   url.Values
	headers  http.Header
	expected []int
	in       any
	out      any
}

func (c *Client) send(ctx context.Context, r request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := http.Header{}
	for k, vs := range r.headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	headers.Set(RequestIDHeader, "req-"+uuid.NewString())

	apiVersion := ""
	switch r.service {
	case ServiceCompute:
		apiVersion = "v2"
		if c.cfg.Microversion != "" {
			headers.Set(NovaMicroversionHeader, c.cfg.Microversion)
		}
	case ServicePlacement:
		if c.cfg.PlacementMicroversion != "" {
			headers.Set(PlacementMicroversionHeader, "placement "+c.cfg.PlacementMicroversion)
		}
	case ServiceImage:
		apiVersion = "v2"
	}

	data := &goosehttp.RequestData{
		ReqHeaders:     headers,
		ExpectedStatus: r.expected,
		ReqValue:       r.in,
		RespValue:      r.out,
	}
	if len(r.params) > 0 {
		params := r.params
		data.Params = &params
	}

	slog.DebugContext(ctx, "compute api request",
		"method", r.method, "service", r.service, "path", r.path,
		"requestID", headers.Get(RequestIDHeader))

	if err := c.req.SendRequest(r.method, r.service, apiVersion, r.path, data); err != nil {
		if gooseerrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s %s: %v", ErrNotFound, r.method, r.path, err)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrRequest, r.method, r.path, err)
	}

	return nil
}
