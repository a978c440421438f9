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

package ssh_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alexandremahdhaoui/whitebox/internal/util/fakes/sshserverfake"
	"github.com/alexandremahdhaoui/whitebox/internal/util/ssh"
	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewClient_Success verifies NewClient() reads a private key file and creates a client.
func TestNewClient_Success(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, os.WriteFile(keyPath, []byte("not parsed until dial"), 0o600))

	client, err := ssh.NewClient("test-host", "test-user", keyPath, "22")
	require.NoError(t, err, "NewClient should not return error")
	require.NotNil(t, client, "Client should not be nil")

	assert.Equal(t, "test-host", client.Host)
	assert.Equal(t, "test-user", client.User)
	assert.Equal(t, "22", client.Port)
	assert.Equal(t, "test-host:22", client.Addr())
	assert.NotEmpty(t, client.PrivateKey, "PrivateKey should contain key bytes")
}

// TestNewClient_FileNotFound verifies NewClient() returns error when private key file doesn't exist.
func TestNewClient_FileNotFound(t *testing.T) {
	client, err := ssh.NewClient("test-host", "test-user", "/nonexistent/path/id_rsa", "22")

	assert.Error(t, err, "Should return error for nonexistent file")
	assert.Nil(t, client, "Client should be nil on error")
	assert.Contains(t, err.Error(), "unable to read private key")
}

func TestClient_Run_InvalidKey(t *testing.T) {
	client := &ssh.Client{Host: "127.0.0.1", User: "u", PrivateKey: []byte("garbage"), Port: "22"}

	_, _, err := client.Run(context.Background(), nil, "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to parse private key")
}

func TestClient_Run(t *testing.T) {
	server := sshserverfake.New(t, func(command string) (string, string, uint32) {
		if strings.Contains(command, "false") {
			return "", "boom\n", 3
		}
		return "ran: " + command, "", 0
	})

	client, err := ssh.NewClient(server.Host, "heat-admin", server.KeyPath, server.Port)
	require.NoError(t, err)
	client.Timeout = 5 * time.Second

	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		stdout, stderr, err := client.Run(ctx, execcontext.WithSudo(nil), "hostname")
		require.NoError(t, err)
		assert.Equal(t, "ran: sudo sh -c hostname", stdout)
		assert.Empty(t, stderr)
	})

	t.Run("non-zero exit status", func(t *testing.T) {
		_, stderr, err := client.Run(ctx, nil, "false")
		require.Error(t, err)
		assert.Equal(t, "boom\n", stderr)
		assert.True(t, errors.Is(err, ssh.ErrRemoteExecutionFailed))

		var rerr *ssh.RemoteExecutionError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, 3, rerr.ExitStatus)
		assert.Equal(t, "false", rerr.Command)

		status, ok := ssh.ExitStatus(err)
		assert.True(t, ok)
		assert.Equal(t, 3, status)
	})

	assert.Equal(t, []string{"sudo sh -c hostname", "false"}, server.Commands())
}

func TestClient_Run_Unreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	server := sshserverfake.New(t, func(string) (string, string, uint32) { return "", "", 0 })
	client, err := ssh.NewClient("127.0.0.1", "u", server.KeyPath, strconv.Itoa(addr.Port))
	require.NoError(t, err)

	_, _, err = client.Run(context.Background(), nil, "true")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ssh.ErrTransport))
	assert.False(t, errors.Is(err, ssh.ErrRemoteExecutionFailed))
}

func TestClient_Forward(t *testing.T) {
	// Echo server reachable from the fake SSH host.
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = echo.Close() })
	go func() {
		for {
			conn, err := echo.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, _ := bufio.NewReader(conn).ReadString('\n')
				_, _ = conn.Write([]byte("echo: " + line))
			}()
		}
	}()

	server := sshserverfake.New(t, func(string) (string, string, uint32) { return "", "", 0 })
	client, err := ssh.NewClient(server.Host, "u", server.KeyPath, server.Port)
	require.NoError(t, err)

	tunnel, err := client.Forward(context.Background(), "127.0.0.1:0", echo.Addr().String())
	require.NoError(t, err)

	conn, err := net.Dial("tcp", tunnel.Addr())
	require.NoError(t, err)
	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo: hello\n", reply)
	require.NoError(t, conn.Close())

	require.NoError(t, tunnel.Close())
	// Closing twice is a no-op.
	require.NoError(t, tunnel.Close())

	_, err = net.DialTimeout("tcp", tunnel.Addr(), time.Second)
	assert.Error(t, err, "listener should be closed")
}

func TestRemoteExecutionError(t *testing.T) {
	err := &ssh.RemoteExecutionError{Host: "compute-0", Command: "ls", ExitStatus: 2, Stderr: "nope"}

	assert.Contains(t, err.Error(), "remote command failed")
	assert.Contains(t, err.Error(), "compute-0")
	assert.Contains(t, err.Error(), "exit-status=2")

	_, ok := ssh.ExitStatus(errors.New("other"))
	assert.False(t, ok)
}
