package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

type contextKey string

const identityKey contextKey = "identity"

// Claims carried by access tokens. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	TTL        time.Duration
	// Skipper lets public routes through without a token.
	Skipper func(c echo.Context) bool
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	cfg JWTConfig
	now func() time.Time
}

func NewTokens(cfg JWTConfig) *Tokens {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Tokens{cfg: cfg, now: time.Now}
}

// Issue signs a token for the user and returns it with its expiry.
func (t *Tokens) Issue(userID uuid.UUID, email, role string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID.String(),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: email,
		Role:  role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse validates tokenStr and returns the identity it carries.
func (t *Tokens) Parse(tokenStr string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, errors.New("invalid token subject")
	}
	if claims.Role != RoleAdmin && claims.Role != RoleUser {
		return Identity{}, errors.New("invalid token role")
	}
	return Identity{UserID: uid, Email: claims.Email, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func unauthorized(msg string) error {
	return apperr.ToHTTP(apperr.Unauthorized("%s", msg))
}

func JWTMiddleware(tokens *Tokens) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tokens.cfg.Skipper != nil && tokens.cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return unauthorized("missing authorization header")
			}
			tokenStr, ok := BearerToken(authHeader)
			if !ok {
				return unauthorized("invalid authorization format")
			}
			id, err := tokens.Parse(tokenStr)
			if err != nil {
				return unauthorized("invalid token")
			}

			// user_id on the echo context feeds the request logger
			c.Set("user_id", id.UserID.String())
			c.SetRequest(c.Request().WithContext(ContextWithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// RequireIdentity returns the caller or a 401 for handlers behind the JWT middleware.
func RequireIdentity(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, unauthorized("authentication required")
	}
	return id, nil
}
