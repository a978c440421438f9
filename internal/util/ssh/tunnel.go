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
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Tunnel forwards a local TCP listener to a remote address through an SSH
// connection.
type Tunnel struct {
	listener net.Listener
	conn     *ssh.Client
	remote   string

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Forward dials the SSH host and listens on localAddr, forwarding each
// accepted connection to remoteAddr as seen from the SSH host. Use port 0 in
// localAddr for an ephemeral port and read it back with Tunnel.Addr.
func (c *Client) Forward(ctx context.Context, localAddr, remoteAddr string) (*Tunnel, error) {
	conn, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", localAddr)
	if err != nil {
		runFuncAndLogErr(conn.Close)
		return nil, fmt.Errorf("%w: listening on %s: %v", ErrTransport, localAddr, err)
	}

	t := &Tunnel{listener: listener, conn: conn, remote: remoteAddr}
	t.wg.Add(1)
	go t.serve()

	slog.DebugContext(ctx, "ssh tunnel opened",
		"local", listener.Addr().String(), "via", c.Addr(), "remote", remoteAddr)

	return t, nil
}

// Addr returns the local address of the tunnel.
func (t *Tunnel) Addr() string {
	return t.listener.Addr().String()
}

// Close stops accepting connections and tears the SSH connection down.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		lerr := t.listener.Close()
		cerr := t.conn.Close()
		t.wg.Wait()
		if errors.Is(lerr, net.ErrClosed) {
			lerr = nil
		}
		if errors.Is(cerr, net.ErrClosed) {
			cerr = nil
		}
		t.closeErr = errors.Join(lerr, cerr)
	})
	return t.closeErr
}

func (t *Tunnel) serve() {
	defer t.wg.Done()

	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.pipe(local)
		}()
	}
}

func (t *Tunnel) pipe(local net.Conn) {
	defer runFuncAndLogErr(local.Close)

	remote, err := t.conn.Dial("tcp", t.remote)
	if err != nil {
		slog.Debug("ssh tunnel dial failed", "remote", t.remote, "err", err.Error())
		return
	}
	defer runFuncAndLogErr(remote.Close)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, remote)
		_ = local.Close()
	}()
	wg.Wait()
}
