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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Scope applies a change, runs fn, then reverts the change whatever fn
// returned.
type Scope func(ctx context.Context, fn func(ctx context.Context) error) error

// WithConfigOptions snapshots the current value of every option, applies
// opts, restarts the service and runs fn. Afterwards the snapshot is written
// back, options that were absent are deleted, and the service is restarted
// again. This happens on every exit path, panics included.
//
// The error of fn comes first in the returned error. Restoration failures are
// logged and joined after it.
func (s *ServiceManager) WithConfigOptions(
	ctx context.Context,
	opts []Option,
	fn func(ctx context.Context) error,
) (err error) {
	prior := make([]Option, 0, len(opts))
	for _, o := range opts {
		v, gerr := s.GetOption(ctx, o.Section, o.Key)
		if gerr != nil {
			return fmt.Errorf("snapshotting %s: %w", o, gerr)
		}
		prior = append(prior, Option{Section: o.Section, Key: o.Key, Value: v})
	}

	applied := 0
	defer func() {
		if rerr := s.restore(context.WithoutCancel(ctx), prior[:applied]); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	for _, o := range opts {
		if serr := s.SetOption(ctx, o.Section, o.Key, o.Value); serr != nil {
			return serr
		}
		applied++
		slog.InfoContext(ctx, "overriding option", "host", s.Host(), "service", s.service, "option", o.String())
	}

	if rerr := s.Restart(ctx); rerr != nil {
		return rerr
	}

	return fn(ctx)
}

// Scope returns WithConfigOptions bound to opts.
func (s *ServiceManager) Scope(opts ...Option) Scope {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return s.WithConfigOptions(ctx, opts, fn)
	}
}

func (s *ServiceManager) restore(ctx context.Context, prior []Option) error {
	var errs []error

	for i := len(prior) - 1; i >= 0; i-- {
		o := prior[i]
		if err := s.SetOption(ctx, o.Section, o.Key, o.Value); err != nil {
			slog.ErrorContext(ctx, "failed to restore option",
				"host", s.Host(), "service", s.service, "option", o.String(), "err", err.Error())
			errs = append(errs, err)
		}
	}

	if err := s.Restart(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to restart service after restoring options",
			"host", s.Host(), "service", s.service, "err", err.Error())
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Multi composes scopes. They are entered in order before fn runs and left
// in reverse order afterwards. Leaving one scope always proceeds to the next,
// whatever the previous one returned.
func Multi(scopes ...Scope) Scope {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		if len(scopes) == 0 {
			return fn(ctx)
		}
		return scopes[0](ctx, func(ctx context.Context) error {
			return Multi(scopes[1:]...)(ctx, fn)
		})
	}
}
