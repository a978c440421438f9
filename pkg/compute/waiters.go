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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alexandremahdhaoui/whitebox/internal/metrics"
	"k8s.io/apimachinery/pkg/util/wait"
)

var (
	ErrTimeout     = errors.New("timed out waiting")
	ErrServerError = errors.New("server went to ERROR")
)

// TimeoutError reports the state last observed when a wait gave up.
type TimeoutError struct {
	Resource string
	Expected string
	Observed string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s expected %q, last observed %q after %s",
		ErrTimeout, e.Resource, e.Expected, e.Observed, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// poll evaluates cond every BuildInterval until it is done, it fails, or
// BuildTimeout elapses. observed is called after each evaluation and its last
// value ends up in the TimeoutError.
func (c *Client) poll(
	ctx context.Context,
	resource, expected string,
	cond func(ctx context.Context) (done bool, observed string, err error),
) error {
	start := time.Now()
	last := ""

	err := wait.PollUntilContextTimeout(ctx, c.interval(), c.timeout(), true,
		func(ctx context.Context) (bool, error) {
			done, observed, err := cond(ctx)
			last = observed
			return done, err
		})

	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.Waits.WithLabelValues(resource, metrics.OutcomeSuccess).Observe(elapsed.Seconds())
		slog.DebugContext(ctx, "wait succeeded", "resource", resource, "expected", expected, "elapsed", elapsed)
		return nil
	case ctx.Err() == nil && wait.Interrupted(err):
		metrics.Waits.WithLabelValues(resource, metrics.OutcomeTimeout).Observe(elapsed.Seconds())
		return &TimeoutError{Resource: resource, Expected: expected, Observed: last, Elapsed: elapsed}
	default:
		metrics.Waits.WithLabelValues(resource, metrics.OutcomeFailure).Observe(elapsed.Seconds())
		return err
	}
}

func (c *Client) interval() time.Duration {
	if c.cfg.BuildInterval.Duration > 0 {
		return c.cfg.BuildInterval.Duration
	}
	return time.Second
}

func (c *Client) timeout() time.Duration {
	if c.cfg.BuildTimeout.Duration > 0 {
		return c.cfg.BuildTimeout.Duration
	}
	return 300 * time.Second
}

// WaitForServerStatus waits for the server to reach status with no task in
// progress. A server going to ERROR aborts the wait unless ERROR is the
// expected status.
func (c *Client) WaitForServerStatus(ctx context.Context, id, status string) (*Server, error) {
	var server *Server

	err := c.poll(ctx, "server/"+id, status, func(ctx context.Context) (bool, string, error) {
		s, err := c.GetServer(ctx, id)
		if err != nil {
			return false, "", err
		}
		server = s

		observed := s.Status
		if s.TaskState != "" {
			observed += "/" + s.TaskState
		}

		if s.Status == "ERROR" && status != "ERROR" {
			msg := ""
			if s.Fault != nil {
				msg = s.Fault.Message
			}
			return false, observed, fmt.Errorf("%w: %s: %s", ErrServerError, id, msg)
		}

		return s.Status == status && s.TaskState == "", observed, nil
	})
	if err != nil {
		return nil, err
	}

	return server, nil
}

// WaitForServerTermination waits until the server is gone.
func (c *Client) WaitForServerTermination(ctx context.Context, id string) error {
	return c.poll(ctx, "server/"+id, "deleted", func(ctx context.Context) (bool, string, error) {
		s, err := c.GetServer(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return true, "deleted", nil
		}
		if err != nil {
			return false, "", err
		}
		return false, s.Status, nil
	})
}

// WaitForServiceState waits for binary on host to report state, "up" or
// "down".
func (c *Client) WaitForServiceState(ctx context.Context, host, binary, state string) error {
	resource := "service/" + binary + "@" + host
	return c.poll(ctx, resource, state, func(ctx context.Context) (bool, string, error) {
		s, err := c.GetService(ctx, host, binary)
		if errors.Is(err, ErrNotFound) {
			return false, "absent", nil
		}
		if err != nil {
			return false, "", err
		}
		return s.State == state, s.State, nil
	})
}

// WaitForServerHost waits for a migrated server to report host and be
// ACTIVE again.
func (c *Client) WaitForServerHost(ctx context.Context, id, host string) (*Server, error) {
	var server *Server

	err := c.poll(ctx, "server/"+id, host, func(ctx context.Context) (bool, string, error) {
		s, err := c.GetServer(ctx, id)
		if err != nil {
			return false, "", err
		}
		server = s
		return s.Host == host && s.Status == "ACTIVE" && s.TaskState == "", s.Host + "/" + s.Status, nil
	})
	if err != nil {
		return nil, err
	}

	return server, nil
}

// WaitForResourceProviderTrait waits for the provider to expose trait.
func (c *Client) WaitForResourceProviderTrait(ctx context.Context, uuid, trait string) error {
	return c.poll(ctx, "resource_provider/"+uuid, trait, func(ctx context.Context) (bool, string, error) {
		traits, err := c.ResourceProviderTraits(ctx, uuid)
		if err != nil {
			return false, "", err
		}
		return slices.Contains(traits, trait), fmt.Sprint(traits), nil
	})
}
