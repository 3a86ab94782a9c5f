package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/greenfelt/croupier/internal/platform/errors"
)

// playerIDKey is the gin context key the auth middleware sets.
const playerIDKey = "player_id"

// playerClaims is the bearer token claim set. Tokens are issued by the
// surrounding platform; this service only verifies them.
type playerClaims struct {
	jwt.RegisteredClaims
	PlayerID string `json:"player_id"`
}

// Auth verifies HMAC-signed bearer tokens carrying a player identity.
type Auth struct {
	secret []byte
	now    func() time.Time
}

// NewAuth returns a verifier over the shared signing secret.
func NewAuth(secret []byte) *Auth {
	return &Auth{secret: secret, now: time.Now}
}

// Sign issues a token for playerID. Production tokens come from the identity
// service; this keeps local development and tests self-contained.
func (a *Auth) Sign(playerID string, ttl time.Duration) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, playerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PlayerID: playerID,
	})
	return token.SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// verified player id on the request context.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			abortError(c, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}

		var claims playerClaims
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(token *jwt.Token) (any, error) {
			return a.secret, nil
		},
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithTimeFunc(a.now),
		)
		if err != nil {
			abortError(c, apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid bearer token", err))
			return
		}
		if strings.TrimSpace(claims.PlayerID) == "" {
			abortError(c, apperrors.New(apperrors.CodeUnauthenticated, "token has no player id"))
			return
		}
		c.Set(playerIDKey, claims.PlayerID)
		c.Next()
	}
}

// playerID returns the verified identity set by the middleware.
func playerID(c *gin.Context) string {
	value, _ := c.Get(playerIDKey)
	id, _ := value.(string)
	return id
}
