/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build unit

package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/alexandremahdhaoui/whitebox/internal/util/logging"
	"github.com/stretchr/testify/assert"
)

func TestSetup_JSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{Level: slog.LevelInfo, Output: &buf})

	slog.Info("hello", "host", "compute-0")
	slog.Debug("hidden")
	logger.Info("from logr", "service", "nova-compute")
	logger.V(1).Info("hidden too")

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"host":"compute-0"`)
	assert.Contains(t, out, "from logr")
	assert.Contains(t, out, "nova-compute")
	assert.NotContains(t, out, "hidden")
}

func TestSetup_DevelopmentDebug(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger := logging.Setup(logging.Options{Development: true, Level: slog.LevelDebug, Output: &buf})

	slog.Debug("visible")
	logger.V(1).Info("verbose")

	assert.Contains(t, buf.String(), "msg=visible")
	assert.Contains(t, buf.String(), "verbose")
}

func TestLogger_ServesInstalledLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logging.Setup(logging.Options{Level: slog.LevelInfo, Output: &buf})

	logging.Logger().WithValues("test", "TestCPUPolicy").Info("created server", "id", "abc")

	out := buf.String()
	// zap's JSON encoder names the message field "msg" and adds a caller.
	assert.Contains(t, out, `"msg":"created server"`)
	assert.Contains(t, out, `"test":"TestCPUPolicy"`)
	assert.Contains(t, out, `"caller":`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("bogus"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel(""))
}
