package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

const (
	ServiceKeyHeader     = "X-Service-Key"
	ProviderSecretHeader = "X-Provider-Secret"
)

// SharedSecretAuth rejects requests whose header does not carry the
// configured secret. An empty secret leaves the route open, which is only
// meant for local runs.
func SharedSecretAuth(header, secret string) gin.HandlerFunc {
	if secret == "" {
		log.Warnf("No secret configured for %s, routes behind it are open", header)
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(secret)

	return func(c *gin.Context) {
		got := []byte(c.GetHeader(header))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			log.Warnf("Rejected %s %s from %s: bad %s", c.Request.Method, c.FullPath(), c.ClientIP(), header)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// ServiceKeyAuth guards machine-to-machine routes.
func ServiceKeyAuth(key string) gin.HandlerFunc {
	return SharedSecretAuth(ServiceKeyHeader, key)
}

// ProviderSecretAuth guards responder registration.
func ProviderSecretAuth(secret string) gin.HandlerFunc {
	return SharedSecretAuth(ProviderSecretHeader, secret)
}
