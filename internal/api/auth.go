package api

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"simtrade-core/internal/errs"
)

const (
	userContextKey = "UserID"
	roleContextKey = "Role"

	// RoleAdmin may call /api/admin and subscribe to any topic.
	RoleAdmin = "admin"
)

// UserClaims represents JWT claims for authenticated users.
type UserClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is a verified caller.
type Principal struct {
	UserID string
	Role   string
}

// IsAdmin reports whether p may administer the simulator.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Authenticator is the auth oracle: it verifies bearer tokens and caches
// the result until the token expires or the cache TTL passes.
type Authenticator struct {
	secret []byte
	cache  *ristretto.Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator for HS256 tokens.
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "token cache")
	}
	return &Authenticator{secret: []byte(secret), cache: c, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for userID. Used by tests and local tooling.
func (a *Authenticator) Issue(userID, role string, expiresAt time.Time) (string, error) {
	claims := UserClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(a.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify resolves a bearer token to its principal.
func (a *Authenticator) Verify(tokenStr string) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, errs.New(errs.Unauthenticated, "missing token")
	}
	if v, ok := a.cache.Get(tokenStr); ok {
		return v.(Principal), nil
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err == nil && !token.Valid {
		err = errors.New("token not valid")
	}
	if err != nil {
		return Principal{}, errs.Wrap(err, errs.Unauthenticated, "invalid or expired token")
	}
	if claims.UserID == "" {
		return Principal{}, errs.New(errs.Unauthenticated, "token has no user id")
	}

	p := Principal{UserID: claims.UserID, Role: claims.Role}
	ttl := a.ttl
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Sub(a.now()); left < ttl {
			ttl = left
		}
	}
	if ttl > 0 {
		a.cache.SetWithTTL(tokenStr, p, 1, ttl)
	}
	return p, nil
}

// Close releases the cache.
func (a *Authenticator) Close() { a.cache.Close() }

func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	// Browsers cannot set headers on WebSocket upgrades.
	return c.Query("token")
}

// AuthMiddleware enforces JWT auth and registers first-seen users.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.Auth.Verify(bearerToken(c))
		if err != nil {
			s.abort(c, err)
			return
		}
		if _, err := s.Users.Ensure(c.Request.Context(), p.UserID); err != nil {
			s.abort(c, err)
			return
		}
		c.Set(userContextKey, p.UserID)
		c.Set(roleContextKey, p.Role)
		c.Next()
	}
}

// AdminMiddleware rejects callers without the admin role.
func (s *Server) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(roleContextKey) != RoleAdmin {
			s.abort(c, errs.New(errs.Forbidden, "admin role required"))
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(userContextKey)
}

func currentPrincipal(c *gin.Context) Principal {
	return Principal{UserID: c.GetString(userContextKey), Role: c.GetString(roleContextKey)}
}

func (s *Server) abort(c *gin.Context, err error) {
	status, body := s.errorBody(c, err)
	c.AbortWithStatusJSON(status, body)
}
