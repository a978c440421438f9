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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"golang.org/x/crypto/ssh"
)

const DefaultTimeout = 10 * time.Second

// Client implements the Runner interface for real SSH connections.
type Client struct {
	Host       string
	User       string
	PrivateKey []byte
	Port       string
	// Timeout bounds the TCP connection and handshake. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewClient creates a new SSH client.
func NewClient(host, user, privateKeyPath, port string) (*Client, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	return &Client{
			Host:       host,
			User:       user,
			PrivateKey: key,
			Port:       port,
		},
		nil
}

func (c *Client) config() (*ssh.ClientConfig, error) {
	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // control plane hosts are reinstalled frequently
		Timeout:         timeout,
	}, nil
}

// Addr returns the host:port the client connects to.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Dial opens a new connection to the host. The caller must close it.
func (c *Client) Dial(ctx context.Context) (*ssh.Client, error) {
	config, err := c.config()
	if err != nil {
		return nil, err
	}

	addr := c.Addr()
	d := net.Dialer{Timeout: config.Timeout}
	tcpConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to connect to %s: %v", ErrTransport, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, config)
	if err != nil {
		_ = tcpConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrTransport, addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes cmd, wrapped according to ectx, on a fresh connection.
func (c *Client) Run(
	ctx context.Context,
	ectx execcontext.Context,
	cmd string,
) (stdout, stderr string, err error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return "", "", err
	}
	defer runFuncAndLogErr(conn.Close)

	session, err := conn.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("%w: unable to create SSH session: %v", ErrTransport, err)
	}
	defer runFuncAndLogErr(session.Close)

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	line := execcontext.FormatCmd(ectx, cmd)
	slog.DebugContext(ctx, "running remote command", "host", c.Host, "cmd", line)

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = conn.Close()
		<-done
		return stdoutBuf.String(), stderrBuf.String(), fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdoutBuf.String(), stderrBuf.String(), &RemoteExecutionError{
				Host:       c.Host,
				Command:    line,
				ExitStatus: exitErr.ExitStatus(),
				Stdout:     stdoutBuf.String(),
				Stderr:     stderrBuf.String(),
			}
		}
		return stdoutBuf.String(), stderrBuf.String(), fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}

// AwaitServer waits for the SSH server to accept connections.
func (c *Client) AwaitServer(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		conn, err := c.Dial(ctx)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		slog.DebugContext(ctx, "ssh server not ready", "addr", c.Addr(), "err", err.Error())

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timed out waiting for SSH server at %s", ErrTransport, c.Addr())
		case <-tick.C:
		}
	}
}

func runFuncAndLogErr(f func() error) {
	if err := f(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("error closing ssh session or connection", "err", err.Error())
	}
}
