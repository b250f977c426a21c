package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RequestIDKey is the gin context key the request-id middleware sets.
const RequestIDKey = "request_id"

// RequestID stamps every request with a uuid, echoed back in the
// response header for correlation with engine logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// CORS allows cross-origin calls from the configured trading frontend.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = allowedOrigins
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "X-Request-ID")
	return cors.New(cfg)
}

// RateLimit builds a per-IP rate limiter using an in-memory store,
// suitable for a single-process deployment.
func RateLimit(formatted string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	store := memory.NewStore()
	instance := limiter.New(store, rate)
	mw := ginlimiter.NewMiddleware(instance)
	return mw, nil
}

// userIDKey is the gin context key set by AuthClaims once a bearer
// token's subject claim has been decoded.
const userIDKey = "user_id"

// AuthClaims decodes (but does not itself authorize) a bearer JWT,
// storing its subject claim for handlers to read. Signature
// verification uses the shared secret configured at startup; account
// permission checks remain the on-chain program's responsibility (§1).
func AuthClaims(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{Code: http.StatusUnauthorized, Msg: "missing bearer token"})
			return
		}
		tokenStr := header[7:]

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{Code: http.StatusUnauthorized, Msg: "invalid token"})
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{Code: http.StatusUnauthorized, Msg: "token missing subject"})
			return
		}
		c.Set(userIDKey, sub)
		c.Next()
	}
}

// UserID returns the authenticated caller's subject claim.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
