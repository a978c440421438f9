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

// Package services reads and overrides the configuration of services running
// on control plane and compute hosts.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/internal/metrics"
	"github.com/alexandremahdhaoui/whitebox/internal/util/ssh"
	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/alexandremahdhaoui/whitebox/pkg/remote"
	"github.com/kballard/go-shellquote"
	"gopkg.in/ini.v1"
)

var ErrMissingServiceSection = errors.New("unable to find service section in configuration")

// Executor runs commands on one host.
type Executor = remote.ContainerExecutor

// Option is a configuration option. A nil Value means the option is absent.
type Option struct {
	Section string
	Key     string
	Value   *string
}

func (o Option) String() string {
	if o.Value == nil {
		return fmt.Sprintf("[%s] %s (absent)", o.Section, o.Key)
	}
	return fmt.Sprintf("[%s] %s = %s", o.Section, o.Key, *o.Value)
}

// ServiceManager manages one service on one host.
type ServiceManager struct {
	client  Executor
	service string
	cfg     config.ServiceConfig
	grace   time.Duration

	// AfterRestart, when set, is called after every restart and start once
	// the grace period has elapsed.
	AfterRestart func(ctx context.Context) error
}

// NewServiceManager returns a manager for service as configured in cfg.
func NewServiceManager(client Executor, cfg *config.Config, service string) (*ServiceManager, error) {
	svc, ok := cfg.Services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingServiceSection, service)
	}

	return &ServiceManager{
		client:  client,
		service: service,
		cfg:     svc,
		grace:   cfg.Whitebox.RestartGracePeriod.Duration,
	}, nil
}

// Service returns the managed service name.
func (s *ServiceManager) Service() string {
	return s.service
}

// Host returns the host the service runs on.
func (s *ServiceManager) Host() string {
	return s.client.Host()
}

// ConfigPath returns the path of the service configuration file.
func (s *ServiceManager) ConfigPath() string {
	return s.cfg.ConfigPath
}

func (s *ServiceManager) exec(ctx context.Context, cmd string) (string, error) {
	return s.client.Execute(ctx, execcontext.WithSudo(nil), cmd)
}

// GetOption returns the value of key in section, or nil when either is absent.
func (s *ServiceManager) GetOption(ctx context.Context, section, key string) (*string, error) {
	out, err := s.exec(ctx, shellquote.Join("crudini", "--get", s.cfg.ConfigPath, section, key))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s [%s] %s: %w", s.service, section, key, err)
	}

	value := strings.TrimRight(out, "\r\n")
	return &value, nil
}

// SetOption sets key in section to value. A nil value deletes the key.
func (s *ServiceManager) SetOption(ctx context.Context, section, key string, value *string) error {
	var cmd string
	if value == nil {
		cmd = shellquote.Join("crudini", "--del", s.cfg.ConfigPath, section, key)
	} else {
		cmd = shellquote.Join("crudini", "--set", s.cfg.ConfigPath, section, key, *value)
	}

	if _, err := s.exec(ctx, cmd); err != nil {
		return fmt.Errorf("writing %s %s: %w", s.service, Option{Section: section, Key: key, Value: value}, err)
	}
	return nil
}

// ReadConfig returns the whole configuration file.
func (s *ServiceManager) ReadConfig(ctx context.Context) (*ini.File, error) {
	out, err := s.exec(ctx, shellquote.Join("cat", s.cfg.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("reading %s configuration: %w", s.service, err)
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, []byte(out))
	if err != nil {
		return nil, fmt.Errorf("parsing %s configuration: %w", s.service, err)
	}
	return file, nil
}

// Restart restarts the service and waits for the grace period.
func (s *ServiceManager) Restart(ctx context.Context) error {
	slog.InfoContext(ctx, "restarting service", "host", s.Host(), "service", s.service)
	metrics.ServiceRestarts.WithLabelValues(s.Host(), s.service).Inc()

	if _, err := s.exec(ctx, s.cfg.RestartCommand); err != nil {
		return fmt.Errorf("restarting %s: %w", s.service, err)
	}
	return s.settle(ctx)
}

// Stop stops the service.
func (s *ServiceManager) Stop(ctx context.Context) error {
	if s.cfg.StopCommand == "" {
		return fmt.Errorf("%w: %s has no stopCommand", ErrMissingServiceSection, s.service)
	}
	if _, err := s.exec(ctx, s.cfg.StopCommand); err != nil {
		return fmt.Errorf("stopping %s: %w", s.service, err)
	}
	return nil
}

// Start starts the service and waits for the grace period.
func (s *ServiceManager) Start(ctx context.Context) error {
	if s.cfg.StartCommand == "" {
		return fmt.Errorf("%w: %s has no startCommand", ErrMissingServiceSection, s.service)
	}
	if _, err := s.exec(ctx, s.cfg.StartCommand); err != nil {
		return fmt.Errorf("starting %s: %w", s.service, err)
	}
	return s.settle(ctx)
}

func (s *ServiceManager) settle(ctx context.Context) error {
	if err := sleepContext(ctx, s.grace); err != nil {
		return err
	}
	if s.AfterRestart != nil {
		return s.AfterRestart(ctx)
	}
	return nil
}

// isNotFound reports whether err is crudini complaining about a missing
// section or option.
func isNotFound(err error) bool {
	var rerr *ssh.RemoteExecutionError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.ExitStatus == 1 && strings.Contains(strings.ToLower(rerr.Stderr), "not found")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
