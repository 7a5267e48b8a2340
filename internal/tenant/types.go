// Package tenant resolves which tenant backend and credentials apply to a request.
package tenant

import (
	"net/http"
	"strings"

	"github.com/relaydesk/relaydesk/internal/backend"
)

// Mode tags a resolution with the credential set that was selected.
type Mode string

// Resolution modes. Webhook requests resolve to ModeAdmin or ModeUser
// depending on which tenant owns the bot token; ModeWebhook marks the
// admin-substitution path that is only reachable from the webhook branch.
const (
	ModeAdmin   Mode = "admin"
	ModeUser    Mode = "user"
	ModeWebhook Mode = "webhook"
)

// RegistryEntry maps a channel bot token to the tenant that owns it. Webhook
// traffic carries only the token, so this is the routing table for inbound
// messages. CredentialBlob is an encrypted backend.Credentials JSON written
// back opportunistically when a fallback scan finds the owner.
type RegistryEntry struct {
	Token          string `json:"token"`
	OwnerID        string `json:"owner_id"`
	OwnerEmail     string `json:"owner_email"`
	BackendURL     string `json:"backend_url"`
	BackendKey     string `json:"backend_key"`
	IsAdminBot     bool   `json:"is_admin_bot"`
	CredentialBlob string `json:"credential_blob"`
}

// Resolution is the outcome of credential resolution for one request.
type Resolution struct {
	Client      backend.Client
	Mode        Mode
	Credentials backend.Credentials
	// Source names the fallback step that produced the credentials
	// (e.g. "registry", "scan", "cookie", "lookup", "dead").
	Source string
}

// RequestContext carries the request attributes the resolver inspects.
// Build one with FromHTTP, or fill the fields directly in tests.
type RequestContext struct {
	Path    string
	Headers map[string]string
	Cookies map[string]string
}

// FromHTTP extracts path, headers, and cookies from an HTTP request.
func FromHTTP(r *http.Request) RequestContext {
	rc := RequestContext{
		Path:    r.URL.Path,
		Headers: map[string]string{},
		Cookies: map[string]string{},
	}
	for name := range r.Header {
		rc.Headers[strings.ToLower(name)] = r.Header.Get(name)
	}
	for _, cookie := range r.Cookies() {
		rc.Cookies[cookie.Name] = cookie.Value
	}
	return rc
}

// Header returns a header value by case-insensitive name.
func (rc RequestContext) Header(name string) string {
	return rc.Headers[strings.ToLower(name)]
}

// Cookie returns a cookie value, or "".
func (rc RequestContext) Cookie(name string) string {
	return rc.Cookies[name]
}
