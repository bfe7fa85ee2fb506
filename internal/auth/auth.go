// Package auth verifies OpenID Connect bearer tokens on protected routes.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type contextKey struct{}

// Principal is the verified caller.
type Principal struct {
	Subject string
	Email   string
}

// Auth checks `Authorization: Bearer <jwt>` against an OIDC issuer.
type Auth struct {
	verifier *oidc.IDTokenVerifier
	logger   Logger
}

// New discovers the issuer and prepares a token verifier. An empty audience
// skips the aud check, since access tokens often carry an API audience
// rather than a client id.
func New(ctx context.Context, issuer, audience string, logger Logger) (*Auth, error) {
	if issuer == "" {
		return nil, errors.New("auth issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
	})
	return NewWithVerifier(verifier, logger), nil
}

// NewWithVerifier wraps an existing verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, logger Logger) *Auth {
	return &Auth{verifier: verifier, logger: logger}
}

// Middleware rejects requests without a valid bearer token and stores the
// Principal in the request context.
func (a *Auth) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()

		header := r.Header.Get(echo.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		token, err := a.verifier.Verify(r.Context(), strings.TrimSpace(raw))
		if err != nil {
			a.logger.Debug("rejected bearer token", "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token").SetInternal(err)
		}

		var claims struct {
			Email string `json:"email"`
		}
		if err := token.Claims(&claims); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "failed to parse token claims").SetInternal(err)
		}

		p := Principal{Subject: token.Subject, Email: claims.Email}
		c.SetRequest(r.WithContext(WithPrincipal(r.Context(), p)))
		return next(c)
	}
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the Principal stored by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
