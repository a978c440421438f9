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

// Package metrics holds the prometheus collectors recorded while talking to
// the environment. They are written to a node-exporter textfile on exit.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "whitebox"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

var (
	// Registry holds every whitebox collector.
	Registry = prometheus.NewRegistry()

	RemoteCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_commands_total",
		Help:      "Commands executed on remote hosts.",
	}, []string{"host", "outcome"})

	RemoteCommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_command_duration_seconds",
		Help:      "Duration of commands executed on remote hosts.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"host"})

	ServiceRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "service_restarts_total",
		Help:      "Service restarts issued while overriding configuration.",
	}, []string{"host", "service"})

	Waits = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "wait_duration_seconds",
		Help:      "Time spent polling for a resource to reach a state.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"resource", "outcome"})

	DatabaseQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_queries_total",
		Help:      "Statements run against the cloud databases.",
	}, []string{"database", "outcome"})
)

func init() {
	Registry.MustRegister(
		RemoteCommands,
		RemoteCommandDuration,
		ServiceRestarts,
		Waits,
		DatabaseQueries,
	)
}

// Outcome maps an error to an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveRemoteCommand records one remote command.
func ObserveRemoteCommand(host string, start time.Time, err error) {
	RemoteCommands.WithLabelValues(host, Outcome(err)).Inc()
	RemoteCommandDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every collector to path in the text exposition format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
