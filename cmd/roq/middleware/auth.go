// Package middleware provides gRPC middleware for the split Flight server.
package middleware

import (
	"context"
	"crypto"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/M2oDA-Lab/roq/cmd/roq/config"
)

// AuthMiddleware provides authentication middleware.
type AuthMiddleware struct {
	config config.AuthConfig
	logger zerolog.Logger

	// HSKey verifies HMAC-signed tokens.
	HSKey []byte
	// RSKey verifies RSA and ECDSA signed tokens.
	RSKey crypto.PublicKey
	Iss   string
	Aud   string
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		logger: logger,
		HSKey:  []byte(cfg.JWTAuth.Secret),
		Iss:    cfg.JWTAuth.Issuer,
		Aud:    cfg.JWTAuth.Audience,
	}
}

func skipAuth(method string) bool {
	return strings.Contains(method, "grpc.health")
}

// UnaryInterceptor returns a unary server interceptor for authentication.
func (m *AuthMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipAuth(info.FullMethod) {
			return handler(ctx, req)
		}

		authCtx, err := m.authenticate(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return nil, err
		}
		return handler(authCtx, req)
	}
}

// StreamInterceptor returns a stream server interceptor for authentication.
func (m *AuthMiddleware) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if skipAuth(info.FullMethod) {
			return handler(srv, ss)
		}

		authCtx, err := m.authenticate(ss.Context())
		if err != nil {
			m.logger.Warn().Err(err).Str("method", info.FullMethod).Msg("Authentication failed")
			return err
		}
		return handler(srv, &authServerStream{ServerStream: ss, ctx: authCtx})
	}
}

func (m *AuthMiddleware) authenticate(ctx context.Context) (context.Context, error) {
	if !m.config.Enabled {
		return ctx, nil
	}

	switch m.config.Type {
	case "basic":
		return m.authenticateBasic(ctx)
	case "bearer":
		return m.authenticateBearer(ctx)
	case "jwt":
		return m.authenticateJWT(ctx)
	default:
		return nil, status.Errorf(codes.Internal, "unsupported auth type: %s", m.config.Type)
	}
}

// authorization returns the credentials following scheme in the
// authorization header.
func authorization(ctx context.Context, scheme string) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	headers := md.Get("authorization")
	if len(headers) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	prefix := scheme + " "
	if !strings.HasPrefix(headers[0], prefix) {
		return "", status.Error(codes.Unauthenticated, "invalid authorization header")
	}
	return strings.TrimPrefix(headers[0], prefix), nil
}

func (m *AuthMiddleware) authenticateBasic(ctx context.Context) (context.Context, error) {
	encoded, err := authorization(ctx, "Basic")
	if err != nil {
		return nil, err
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials encoding")
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials format")
	}

	userInfo, ok := m.config.BasicAuth.Users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(userInfo.Password)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	ctx = context.WithValue(ctx, contextKeyUser, username)
	ctx = context.WithValue(ctx, contextKeyRoles, userInfo.Roles)
	return ctx, nil
}

func (m *AuthMiddleware) authenticateBearer(ctx context.Context) (context.Context, error) {
	token, err := authorization(ctx, "Bearer")
	if err != nil {
		return nil, err
	}

	username, ok := m.config.BearerAuth.Tokens[token]
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return context.WithValue(ctx, contextKeyUser, username), nil
}

var jwtMethods = []string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

func (m *AuthMiddleware) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(m.HSKey) == 0 {
			return nil, fmt.Errorf("no HMAC key configured")
		}
		return m.HSKey, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if m.RSKey == nil {
			return nil, fmt.Errorf("no public key configured")
		}
		return m.RSKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}

func (m *AuthMiddleware) authenticateJWT(ctx context.Context) (context.Context, error) {
	raw, err := authorization(ctx, "Bearer")
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(jwtMethods), jwt.WithExpirationRequired()}
	if m.Iss != "" {
		opts = append(opts, jwt.WithIssuer(m.Iss))
	}
	if m.Aud != "" {
		opts = append(opts, jwt.WithAudience(m.Aud))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, m.keyFunc, opts...); err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, status.Error(codes.Unauthenticated, "token has no subject")
	}

	ctx = context.WithValue(ctx, contextKeyUser, subject)
	if roles, ok := claims["roles"].([]interface{}); ok {
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		ctx = context.WithValue(ctx, contextKeyRoles, names)
	}
	return ctx, nil
}

type contextKey string

const (
	contextKeyUser  contextKey = "user"
	contextKeyRoles contextKey = "roles"
)

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}

// AuthenticatedUser returns the authenticated user or an empty string.
func AuthenticatedUser(ctx context.Context) string {
	user, _ := GetUser(ctx)
	return user
}

// GetRoles extracts the user's roles from context.
func GetRoles(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(contextKeyRoles).([]string)
	return roles, ok
}

// authServerStream wraps a ServerStream with authenticated context.
type authServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authServerStream) Context() context.Context {
	return s.ctx
}
