package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/relaydesk/internal/backend"
	"github.com/relaydesk/relaydesk/internal/secrets"
)

// Request markers inspected during resolution.
const (
	HeaderWebhookMarker = "X-Relaydesk-Webhook"
	HeaderChannelSecret = "X-Channel-Secret"
	HeaderBotToken      = "X-Bot-Token"
	CookieAdminMode     = "rd_admin"
	CookieCredentials   = "rd_credentials"
	CookieAuthToken     = "rd_auth"
	webhookPathPrefix   = "/webhooks/"
)

const scanConcurrency = 4

// Dialer turns credentials into a backend handle.
type Dialer interface {
	Dial(ctx context.Context, creds backend.Credentials) (backend.Client, error)
}

// Resolver implements the ordered credential fallback chains. The hard
// invariant: the USER chain never substitutes admin credentials; its final
// dead end is a non-functional handle.
type Resolver struct {
	logger     *slog.Logger
	dialer     Dialer
	box        *secrets.Box
	registry   *Registry
	adminCreds backend.Credentials
	jwtSecret  string
	scanLimit  int
}

// NewResolver builds a Resolver. adminCreds are the environment-level admin
// backend credentials; scanLimit bounds the webhook fallback tenant scan.
func NewResolver(log *slog.Logger, dialer Dialer, box *secrets.Box, registry *Registry, adminCreds backend.Credentials, jwtSecret string, scanLimit int) *Resolver {
	if scanLimit <= 0 {
		scanLimit = 10
	}
	return &Resolver{
		logger:     log.With(slog.String("service", "resolver")),
		dialer:     dialer,
		box:        box,
		registry:   registry,
		adminCreds: adminCreds,
		jwtSecret:  jwtSecret,
		scanLimit:  scanLimit,
	}
}

// Resolve determines the tenant backend for a request.
func (r *Resolver) Resolve(ctx context.Context, rc RequestContext) (Resolution, error) {
	if isWebhook(rc) {
		return r.resolveWebhook(ctx, rc)
	}
	if rc.Cookie(CookieAdminMode) == "1" || rc.Cookie(CookieAdminMode) == "true" {
		return r.resolveAdmin(ctx)
	}
	return r.resolveUser(ctx, rc), nil
}

func (r *Resolver) resolveAdmin(ctx context.Context) (Resolution, error) {
	client, err := r.dialer.Dial(ctx, r.adminCreds)
	if err != nil {
		return Resolution{}, fmt.Errorf("tenant: admin backend: %w", err)
	}
	return Resolution{Client: client, Mode: ModeAdmin, Credentials: r.adminCreds, Source: "env"}, nil
}

// resolveWebhook routes bot-token-only traffic. It never fails delivery
// silently: when no tenant owns the token, admin credentials substitute,
// tagged ModeWebhook so the substitution is observable.
func (r *Resolver) resolveWebhook(ctx context.Context, rc RequestContext) (Resolution, error) {
	token := extractBotToken(rc)
	if token == "" {
		r.logger.Warn("webhook request without bot token; using admin backend")
		return r.webhookAdminFallback(ctx)
	}

	entry, err := r.registry.LookupBot(ctx, token)
	if err != nil && !errors.Is(err, ErrBotNotFound) {
		r.logger.Warn("registry lookup failed", slog.Any("error", err))
	}

	if err == nil {
		if entry.IsAdminBot {
			resolution, adminErr := r.resolveAdmin(ctx)
			if adminErr == nil {
				resolution.Source = "registry"
				return resolution, nil
			}
			r.logger.Error("admin backend unavailable for admin bot", slog.Any("error", adminErr))
		}
		if creds, ok := r.credentialsFromBlob(entry.CredentialBlob); ok {
			if client, dialErr := r.dialer.Dial(ctx, creds); dialErr == nil {
				return Resolution{Client: client, Mode: ModeUser, Credentials: creds, Source: "registry"}, nil
			} else {
				r.logger.Warn("registry credentials unusable", slog.String("token", redactToken(token)), slog.Any("error", dialErr))
			}
		}
	}

	if resolution, ok := r.scanTenantsForBot(ctx, token); ok {
		return resolution, nil
	}

	r.logger.Warn("no tenant owns bot token; substituting admin credentials",
		slog.String("token", redactToken(token)))
	return r.webhookAdminFallback(ctx)
}

func (r *Resolver) webhookAdminFallback(ctx context.Context) (Resolution, error) {
	client, err := r.dialer.Dial(ctx, r.adminCreds)
	if err != nil {
		return Resolution{}, fmt.Errorf("tenant: webhook admin fallback: %w", err)
	}
	return Resolution{Client: client, Mode: ModeWebhook, Credentials: r.adminCreds, Source: "fallback"}, nil
}

// scanTenantsForBot probes each stored tenant backend for the bot token. On a
// hit it writes the credentials back onto the registry entry so the next
// webhook skips the scan.
func (r *Resolver) scanTenantsForBot(ctx context.Context, token string) (Resolution, bool) {
	records, err := r.registry.ListTenants(ctx, r.scanLimit)
	if err != nil {
		r.logger.Warn("tenant scan unavailable", slog.Any("error", err))
		return Resolution{}, false
	}

	var (
		mu     sync.Mutex
		winner *Resolution
		email  string
		blob   string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(scanConcurrency)

	for _, record := range records {
		record := record
		group.Go(func() error {
			creds, ok := r.credentialsFromBlob(record.CredentialBlob)
			if !ok {
				return nil
			}
			client, dialErr := r.dialer.Dial(groupCtx, creds)
			if dialErr != nil {
				return nil
			}
			rows, probeErr := client.Select(groupCtx, "bots", backend.Query{}.Eq("token", token).Take(1))
			if probeErr != nil || len(rows) == 0 {
				return nil
			}
			mu.Lock()
			if winner == nil {
				winner = &Resolution{Client: client, Mode: ModeUser, Credentials: creds, Source: "scan"}
				email = record.OwnerEmail
				blob = record.CredentialBlob
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	if winner == nil {
		return Resolution{}, false
	}
	if err := r.registry.SaveBotCredentials(ctx, token, email, blob); err != nil {
		r.logger.Warn("registry self-heal failed", slog.Any("error", err))
	}
	return *winner, true
}

// resolveUser tries cookie-embedded credentials, then a lookup by the
// authenticated email, then gives up with a dead handle. Admin credentials
// are unreachable from this path.
func (r *Resolver) resolveUser(ctx context.Context, rc RequestContext) Resolution {
	if raw := rc.Cookie(CookieCredentials); raw != "" {
		if creds, ok := r.credentialsFromBlob(raw); ok {
			if client, err := r.dialer.Dial(ctx, creds); err == nil {
				return Resolution{Client: client, Mode: ModeUser, Credentials: creds, Source: "cookie"}
			} else {
				r.logger.Warn("cookie credentials unusable", slog.Any("error", err))
			}
		}
	}

	if email := r.emailFromAuthCookie(rc); email != "" {
		blob, err := r.registry.LookupUserCredentials(ctx, email)
		if err != nil {
			r.logger.Warn("credentials lookup failed", slog.String("email", email), slog.Any("error", err))
		} else if blob != "" {
			if creds, ok := r.credentialsFromBlob(blob); ok {
				if client, dialErr := r.dialer.Dial(ctx, creds); dialErr == nil {
					return Resolution{Client: client, Mode: ModeUser, Credentials: creds, Source: "lookup"}
				} else {
					r.logger.Warn("stored credentials unusable", slog.String("email", email), slog.Any("error", dialErr))
				}
			}
		}
	}

	r.logger.Warn("user credential resolution exhausted; returning dead handle")
	return Resolution{Client: backend.Dead(), Mode: ModeUser, Source: "dead"}
}

// credentialsFromBlob decrypts and decodes a credential blob. A failed
// decrypt means "this source has no usable credentials", not a fatal error.
func (r *Resolver) credentialsFromBlob(blob string) (backend.Credentials, bool) {
	if strings.TrimSpace(blob) == "" {
		return backend.Credentials{}, false
	}
	plain, err := r.box.Decrypt(blob)
	if err != nil {
		r.logger.Warn("credential blob decrypt failed", slog.Any("error", err))
		return backend.Credentials{}, false
	}
	creds, err := DecodeCredentialBlob(plain)
	if err != nil {
		r.logger.Warn("credential blob malformed", slog.Any("error", err))
		return backend.Credentials{}, false
	}
	if creds.Encrypted {
		if creds, err = r.decryptFields(creds); err != nil {
			r.logger.Warn("credential field decrypt failed", slog.Any("error", err))
			return backend.Credentials{}, false
		}
	}
	if !creds.Valid() {
		return backend.Credentials{}, false
	}
	return creds, true
}

func (r *Resolver) decryptFields(creds backend.Credentials) (backend.Credentials, error) {
	var err error
	if creds.URL, err = r.box.Decrypt(creds.URL); err != nil {
		return creds, err
	}
	if creds.AnonKey, err = r.box.Decrypt(creds.AnonKey); err != nil {
		return creds, err
	}
	if creds.ServiceRoleKey != "" {
		if creds.ServiceRoleKey, err = r.box.Decrypt(creds.ServiceRoleKey); err != nil {
			return creds, err
		}
	}
	creds.Encrypted = false
	return creds, nil
}

func (r *Resolver) emailFromAuthCookie(rc RequestContext) string {
	raw := rc.Cookie(CookieAuthToken)
	if raw == "" {
		return ""
	}
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(r.jwtSecret), nil
	})
	if err != nil || !parsed.Valid {
		r.logger.Warn("auth cookie invalid", slog.Any("error", err))
		return ""
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	return ""
}

func isWebhook(rc RequestContext) bool {
	if rc.Header(HeaderWebhookMarker) != "" || rc.Header(HeaderChannelSecret) != "" {
		return true
	}
	return strings.HasPrefix(rc.Path, webhookPathPrefix)
}

// extractBotToken pulls the bot token from the header or the webhook path
// (/webhooks/{channel}/{token}).
func extractBotToken(rc RequestContext) string {
	if token := rc.Header(HeaderBotToken); token != "" {
		return token
	}
	if strings.HasPrefix(rc.Path, webhookPathPrefix) {
		parts := strings.Split(strings.TrimPrefix(rc.Path, webhookPathPrefix), "/")
		if len(parts) >= 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return ""
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
