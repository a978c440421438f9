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
	"context"
	"errors"
	"fmt"
	"sync"
)

// Cleanup is a registry of teardown functions run last-in first-out.
type Cleanup struct {
	mu    sync.Mutex
	funcs []cleanupFunc
	logf  func(format string, args ...any)
}

type cleanupFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCleanup returns an empty registry reporting failures through logf.
func NewCleanup(logf func(format string, args ...any)) *Cleanup {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Cleanup{logf: logf}
}

// Add registers fn under name. It must be called as soon as the resource
// it releases exists.
func (c *Cleanup) Add(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, cleanupFunc{name: name, fn: fn})
}

// Len returns the number of pending functions.
func (c *Cleanup) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.funcs)
}

// Run calls every registered function, the most recent first, and empties
// the registry. A failing function does not stop the others.
func (c *Cleanup) Run(ctx context.Context) error {
	c.mu.Lock()
	funcs := c.funcs
	c.funcs = nil
	c.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			c.logf("cleanup %q failed: %v", f.name, err)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", f.name, err))
		}
	}
	return errors.Join(errs...)
}
