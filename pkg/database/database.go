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

// Package database runs SQL against the cloud databases, optionally through
// an SSH tunnel opened on the database host.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/alexandremahdhaoui/whitebox/internal/config"
	"github.com/alexandremahdhaoui/whitebox/internal/metrics"
	"github.com/alexandremahdhaoui/whitebox/internal/util/ssh"
	"github.com/go-sql-driver/mysql"
)

var (
	ErrTunnel  = errors.New("opening database tunnel")
	ErrConnect = errors.New("connecting to database")
	ErrQuery   = errors.New("running statement")
)

// GatewayDialer returns an SSH client for the database host.
type GatewayDialer interface {
	SSHClient(addr string) (*ssh.Client, error)
}

// DSNFunc builds the data source name of db listening on addr.
type DSNFunc func(addr, db string) string

// Option configures a Client.
type Option func(*Client)

// WithOpener replaces the MySQL driver, e.g. by an in-memory database.
func WithOpener(driverName string, dsn DSNFunc) Option {
	return func(c *Client) {
		c.driver = driverName
		c.dsn = dsn
	}
}

// Client opens one connection per Cursor call.
type Client struct {
	cfg    config.DatabaseConfig
	dialer GatewayDialer

	driver string
	dsn    DSNFunc
}

// NewClient returns a Client for cfg. dialer is only used when
// cfg.InternalIP is set and may be nil otherwise.
func NewClient(cfg config.DatabaseConfig, dialer GatewayDialer, opts ...Option) *Client {
	c := &Client{cfg: cfg, dialer: dialer, driver: "mysql"}
	c.dsn = c.mysqlDSN
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) mysqlDSN(addr, db string) string {
	mc := mysql.NewConfig()
	mc.User = c.cfg.User
	mc.Passwd = c.cfg.Password
	mc.Net = "tcp"
	mc.Addr = addr
	mc.DBName = db
	mc.ParseTime = true
	return mc.FormatDSN()
}

// DSN returns the data source name used to reach db on addr.
func (c *Client) DSN(addr, db string) string {
	return c.dsn(addr, db)
}

func (c *Client) port() string {
	if c.cfg.Port == 0 {
		return "3306"
	}
	return strconv.Itoa(c.cfg.Port)
}

// Cursor connects to db, hands a Cursor to fn and closes everything once fn
// returns, whatever the outcome.
func (c *Client) Cursor(ctx context.Context, db string, fn func(*Cursor) error) (err error) {
	addr := net.JoinHostPort(c.cfg.Host, c.port())

	if c.cfg.InternalIP != "" {
		tunnel, terr := c.openTunnel(ctx)
		if terr != nil {
			return terr
		}
		defer func() {
			if cerr := tunnel.Close(); cerr != nil {
				slog.Warn("closing database tunnel", "error", cerr.Error())
			}
		}()
		addr = tunnel.Addr()
	}

	sqlDB, err := sql.Open(c.driver, c.dsn(addr, db))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnect, db, err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			slog.Warn("closing database connection", "database", db, "error", cerr.Error())
		}
	}()
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnect, db, err)
	}

	return fn(&Cursor{db: sqlDB, name: db})
}

func (c *Client) openTunnel(ctx context.Context) (*ssh.Tunnel, error) {
	if c.dialer == nil {
		return nil, fmt.Errorf("%w: no ssh dialer configured", ErrTunnel)
	}

	client, err := c.dialer.SSHClient(c.cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTunnel, err)
	}

	local := net.JoinHostPort("127.0.0.1", strconv.Itoa(c.cfg.SSHGatewayPort))
	remote := net.JoinHostPort(c.cfg.InternalIP, c.port())

	tunnel, err := client.Forward(ctx, local, remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTunnel, err)
	}

	return tunnel, nil
}

// Cursor runs statements on one open connection.
type Cursor struct {
	db   *sql.DB
	name string
}

// Query runs a statement returning rows.
func (c *Cursor) Query(ctx context.Context, query string, args ...any) (rows []Row, err error) {
	defer func() { c.observe(err) }()

	r, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer func() { _ = r.Close() }()

	cols, err := r.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	for r.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := r.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQuery, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rows = append(rows, Row{columns: cols, values: values})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	return rows, nil
}

// Exec runs a statement and returns the number of affected rows.
func (c *Cursor) Exec(ctx context.Context, query string, args ...any) (n int64, err error) {
	defer func() { c.observe(err) }()

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	return n, nil
}

func (c *Cursor) observe(err error) {
	metrics.DatabaseQueries.WithLabelValues(c.name, metrics.Outcome(err)).Inc()
}
