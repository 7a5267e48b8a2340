package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaydesk/relaydesk/internal/backend"
)

const (
	registryTable    = "bot_registry"
	credentialsTable = "tenant_credentials"
)

// ErrBotNotFound is returned when no registry row matches a bot token.
var ErrBotNotFound = errors.New("tenant: bot token not registered")

// Registry reads and self-heals the bot routing table in the admin backend.
type Registry struct {
	admin  backend.Client
	logger *slog.Logger
}

// NewRegistry creates a Registry over the admin backend handle.
func NewRegistry(log *slog.Logger, admin backend.Client) *Registry {
	return &Registry{
		admin:  admin,
		logger: log.With(slog.String("service", "registry")),
	}
}

// LookupBot fetches the registry entry for a bot token.
func (r *Registry) LookupBot(ctx context.Context, token string) (RegistryEntry, error) {
	rows, err := r.admin.Select(ctx, registryTable, backend.Query{}.Eq("token", token).Take(1))
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("tenant: registry lookup: %w", err)
	}
	if len(rows) == 0 {
		return RegistryEntry{}, ErrBotNotFound
	}
	return entryFromRow(rows[0]), nil
}

// SaveBotCredentials writes resolved credentials back onto the registry entry
// so the next webhook for this token skips the tenant scan. Tokens the scan
// resolved without a registry row get one inserted, otherwise the cache never
// warms for them. Failures are the caller's to log; this cache write must
// never block resolution.
func (r *Registry) SaveBotCredentials(ctx context.Context, token, ownerEmail, blob string) error {
	changes := backend.Row{
		"owner_email":     ownerEmail,
		"credential_blob": blob,
	}
	updated, err := r.admin.Update(ctx, registryTable, backend.Query{}.Eq("token", token), changes)
	if err != nil {
		return fmt.Errorf("tenant: registry write-back: %w", err)
	}
	if len(updated) > 0 {
		return nil
	}

	row := backend.Row{"token": token}
	for column, value := range changes {
		row[column] = value
	}
	if _, err := r.admin.Insert(ctx, registryTable, row); err != nil {
		return fmt.Errorf("tenant: registry write-back: %w", err)
	}
	return nil
}

// TenantRecord is one stored tenant credential row in the admin backend.
type TenantRecord struct {
	OwnerID        string
	OwnerEmail     string
	CredentialBlob string
}

// ListTenants returns up to limit tenants that have stored credentials,
// newest first, for the webhook fallback scan.
func (r *Registry) ListTenants(ctx context.Context, limit int) ([]TenantRecord, error) {
	q := backend.Query{}.
		Where("credential_blob", backend.OpNeq, "").
		Order("updated_at", true).
		Take(limit)
	rows, err := r.admin.Select(ctx, credentialsTable, q)
	if err != nil {
		return nil, fmt.Errorf("tenant: list tenants: %w", err)
	}
	records := make([]TenantRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, TenantRecord{
			OwnerID:        rowString(row, "owner_id"),
			OwnerEmail:     rowString(row, "owner_email"),
			CredentialBlob: rowString(row, "credential_blob"),
		})
	}
	return records, nil
}

// LookupUserCredentials returns the stored credential blob for an
// authenticated user's email, or "" when none exists.
func (r *Registry) LookupUserCredentials(ctx context.Context, email string) (string, error) {
	rows, err := r.admin.Select(ctx, credentialsTable, backend.Query{}.Eq("owner_email", email).Take(1))
	if err != nil {
		return "", fmt.Errorf("tenant: user credentials lookup: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rowString(rows[0], "credential_blob"), nil
}

func entryFromRow(row backend.Row) RegistryEntry {
	return RegistryEntry{
		Token:          rowString(row, "token"),
		OwnerID:        rowString(row, "owner_id"),
		OwnerEmail:     rowString(row, "owner_email"),
		BackendURL:     rowString(row, "backend_url"),
		BackendKey:     rowString(row, "backend_key"),
		IsAdminBot:     rowBool(row, "is_admin_bot"),
		CredentialBlob: rowString(row, "credential_blob"),
	}
}

func rowString(row backend.Row, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowBool(row backend.Row, key string) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// DecodeCredentialBlob parses a (decrypted) credentials JSON blob.
func DecodeCredentialBlob(blob string) (backend.Credentials, error) {
	var creds backend.Credentials
	if err := json.Unmarshal([]byte(blob), &creds); err != nil {
		return backend.Credentials{}, fmt.Errorf("tenant: decode credential blob: %w", err)
	}
	return creds, nil
}
