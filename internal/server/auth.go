package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Auth modes, resolved once from AuthConfig.
const (
	AuthToken    = "token"
	AuthDev      = "dev"
	AuthDegraded = "degraded"
	AuthOpen     = "open"
)

type AuthConfig struct {
	// APIToken is the static bearer token.
	APIToken string
	// JWTSecret enables HS256 bearer tokens signed with it.
	JWTSecret    string
	DevMode      bool
	RequireToken bool
}

// Mode picks the auth mode: a configured credential wins, then dev mode,
// then the degraded mode of a deployment that demands a token it lacks.
func (c AuthConfig) Mode() string {
	switch {
	case strings.TrimSpace(c.APIToken) != "" || strings.TrimSpace(c.JWTSecret) != "":
		return AuthToken
	case c.DevMode:
		return AuthDev
	case c.RequireToken:
		return AuthDegraded
	default:
		return AuthOpen
	}
}

func (c AuthConfig) announce(log *zap.Logger) {
	switch mode := c.Mode(); mode {
	case AuthToken:
		log.Info("auth: bearer token required on mutating endpoints", zap.String("auth_mode", mode))
	case AuthDev:
		log.Warn("auth: dev mode, all requests allowed", zap.String("auth_mode", mode))
	case AuthDegraded:
		log.Warn("auth: token required but none configured; mutating endpoints disabled", zap.String("auth_mode", mode))
	default:
		log.Warn("auth: no API token set; API is open", zap.String("auth_mode", mode))
	}
}

type Principal struct {
	Subject string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{Subject: claims.Subject, Source: "jwt"}, nil
}

func (c AuthConfig) authenticate(token string) (Principal, error) {
	if c.APIToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(c.APIToken)) == 1 {
		return Principal{Subject: "api_token", Source: "api_token"}, nil
	}
	if c.JWTSecret != "" {
		return authenticateJWT(token, c.JWTSecret)
	}
	return Principal{}, errors.New("invalid token")
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// isMutating reports whether a route changes state. GET /strategy/decide runs
// a decision cycle and counts as one.
func isMutating(method, path string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return path == "/strategy/decide"
	}
	return true
}

func newAuthMiddleware(cfg AuthConfig, log *zap.Logger) func(http.Handler) http.Handler {
	mode := cfg.Mode()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !isMutating(req.Method, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			switch mode {
			case AuthDev, AuthOpen:
				next.ServeHTTP(w, req)
				return
			case AuthDegraded:
				respondStatusError(w, req, newAPIError(http.StatusServiceUnavailable, "auth_degraded", "authentication is required but no API token is configured", nil))
				return
			}

			token, ok := bearerToken(strings.TrimSpace(req.Header.Get("Authorization")))
			if !ok {
				log.Warn("unauthorized request", zap.String("request_id", req.Header.Get(headerRequestID)), zap.String("path", req.URL.Path))
				respondStatusError(w, req, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			principal, err := cfg.authenticate(token)
			if err != nil {
				log.Warn("invalid credentials", zap.String("request_id", req.Header.Get(headerRequestID)), zap.String("path", req.URL.Path))
				respondStatusError(w, req, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}
