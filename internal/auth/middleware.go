package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"restylinchpin/internal/domain"
)

const (
	MessageKeyMissing = "API key is missing"
	MessageKeyInvalid = "API key is invalid!"
)

// Middleware rejects requests without a resolvable API key and stores the
// principal in the request context for the handlers.
func (g *Guard) Middleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := g.Resolve(c.Request.Context(), c.GetHeader(g.header))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrCredentialMissing):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": MessageKeyMissing})
			case errors.Is(err, domain.ErrCredentialInvalid):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": MessageKeyInvalid})
			default:
				if logger != nil {
					logger.WithError(err).Error("resolve principal")
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			}
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}
