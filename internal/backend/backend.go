// Package backend provides the tenant-scoped data backend capability.
//
// A backend is addressed by a URL plus API keys: postgres:// URLs get a
// pgx-backed client, http(s):// URLs get a PostgREST-style client. One client
// per resolved tenant; clients must never be shared across tenants.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Credentials address a tenant backend. When Encrypted is true the key fields
// still hold ciphertext and must pass through secrets.Box before use.
type Credentials struct {
	URL            string `json:"backend_url"`
	AnonKey        string `json:"anon_key"`
	ServiceRoleKey string `json:"service_role_key,omitempty"`
	Encrypted      bool   `json:"encrypted,omitempty"`
}

// Valid reports whether the credentials are usable for dialing.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.URL) != "" && (strings.TrimSpace(c.AnonKey) != "" || strings.TrimSpace(c.ServiceRoleKey) != "" || isPostgresURL(c.URL))
}

// Key returns the strongest available API key.
func (c Credentials) Key() string {
	if strings.TrimSpace(c.ServiceRoleKey) != "" {
		return c.ServiceRoleKey
	}
	return c.AnonKey
}

// Row is a single backend record.
type Row = map[string]any

// Client is the tenant-scoped data backend handle.
type Client interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows ...Row) ([]Row, error)
	Update(ctx context.Context, table string, q Query, changes Row) ([]Row, error)
	Delete(ctx context.Context, table string, q Query) error
	// RPC calls a server-side function (e.g. match_memories) with named args.
	RPC(ctx context.Context, name string, args map[string]any) ([]Row, error)
}

// ErrDeadHandle marks the deliberately non-functional handle handed out when
// USER-mode credential resolution exhausts every source. It surfaces on first
// use instead of at resolve time.
var ErrDeadHandle = errors.New("backend: no usable credentials for this tenant")

// Dialer builds clients from credentials, reusing pgx pools per tenant.
type Dialer struct {
	logger      *slog.Logger
	pools       *PoolRegistry
	httpTimeout time.Duration
}

// NewDialer creates a Dialer with a fresh pool registry.
func NewDialer(log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{
		logger:      log.With(slog.String("component", "backend")),
		pools:       NewPoolRegistry(),
		httpTimeout: 15 * time.Second,
	}
}

// Dial returns a client for the credentials, picked by URL scheme.
func (d *Dialer) Dial(ctx context.Context, creds Credentials) (Client, error) {
	if creds.Encrypted {
		return nil, errors.New("backend: credentials still encrypted")
	}
	if !creds.Valid() {
		return nil, errors.New("backend: incomplete credentials")
	}
	parsed, err := url.Parse(strings.TrimSpace(creds.URL))
	if err != nil {
		return nil, fmt.Errorf("backend: parse url: %w", err)
	}
	switch parsed.Scheme {
	case "postgres", "postgresql":
		pool, err := d.pools.Get(ctx, creds)
		if err != nil {
			return nil, err
		}
		return &postgresClient{pool: pool, logger: d.logger}, nil
	case "http", "https":
		return newRESTClient(d.logger, creds, d.httpTimeout), nil
	default:
		return nil, fmt.Errorf("backend: unsupported scheme %q", parsed.Scheme)
	}
}

// Close releases every pooled connection.
func (d *Dialer) Close() {
	d.pools.Close()
}

// Dead returns the non-functional handle. Every call fails with ErrDeadHandle.
func Dead() Client {
	return deadClient{}
}

type deadClient struct{}

func (deadClient) Select(context.Context, string, Query) ([]Row, error) { return nil, ErrDeadHandle }
func (deadClient) Insert(context.Context, string, ...Row) ([]Row, error) {
	return nil, ErrDeadHandle
}
func (deadClient) Update(context.Context, string, Query, Row) ([]Row, error) {
	return nil, ErrDeadHandle
}
func (deadClient) Delete(context.Context, string, Query) error { return ErrDeadHandle }
func (deadClient) RPC(context.Context, string, map[string]any) ([]Row, error) {
	return nil, ErrDeadHandle
}

func isPostgresURL(raw string) bool {
	return strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://")
}
