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

package ssh

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
)

var (
	// ErrTransport is returned when the remote host cannot be reached or the
	// session cannot be established.
	ErrTransport = errors.New("ssh transport error")
	// ErrRemoteExecutionFailed is returned when the remote command ran and
	// exited with a non-zero status.
	ErrRemoteExecutionFailed = errors.New("remote command failed")
)

// Runner defines the interface for executing commands on a remote host.
type Runner interface {
	Run(ctx context.Context, ectx execcontext.Context, cmd string) (stdout, stderr string, err error)
}

// RemoteExecutionError carries the exit status and output of a failed command.
type RemoteExecutionError struct {
	Host       string
	Command    string
	ExitStatus int
	Stdout     string
	Stderr     string
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("%s: host=%s exit-status=%d command=%q stderr=%q",
		ErrRemoteExecutionFailed, e.Host, e.ExitStatus, e.Command, e.Stderr)
}

func (e *RemoteExecutionError) Unwrap() error {
	return ErrRemoteExecutionFailed
}

// ExitStatus returns the exit status carried by err, if any.
func ExitStatus(err error) (int, bool) {
	var rerr *RemoteExecutionError
	if errors.As(err, &rerr) {
		return rerr.ExitStatus, true
	}
	return 0, false
}
