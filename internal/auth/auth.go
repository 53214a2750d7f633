// Package auth authenticates API callers with HS256 JWTs carried in an
// Authorization bearer header or a session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoCredentials means the request carried neither header nor cookie.
	ErrNoCredentials = errors.New("no credentials")
	// ErrInvalidToken covers bad signatures, expiry and malformed tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims identifies the caller. UserID doubles as the owner scope of uploads.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator parses and issues session tokens.
type Authenticator struct {
	secret     []byte
	cookieName string
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(secret []byte, cookieName string) *Authenticator {
	if cookieName == "" {
		cookieName = "session"
	}
	return &Authenticator{secret: secret, cookieName: cookieName}
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "photodrop",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates tokenStr.
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate reads the bearer header first and the session cookie second.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return nil, fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
		}
		return a.Parse(strings.TrimSpace(parts[1]))
	}
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return a.Parse(c.Value)
	}
	return nil, ErrNoCredentials
}

type claimsKey struct{}

// WithClaims stores c on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// FromContext returns the claims stored by the middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Middleware rejects unauthenticated requests with 401 and the same JSON
// error body the API uses everywhere else.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Authenticate(r)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]any{
				"success": false,
				"error":   "authentication required",
				"code":    "UNAUTHORIZED",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
