package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxActorClaims = "ledger_actor_claims"

// RequireActor returns a Gin middleware that enforces a valid actor Bearer
// token and stores its claims in the context. A nil issuer disables the
// check, which is how ledgerd runs when no JWT secret is configured.
func RequireActor(tokens *ActorTokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer actor token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid actor token: " + err.Error(),
			})
			return
		}

		c.Set(ctxActorClaims, claims)
		c.Next()
	}
}

// ActorFromCtx returns the actor claims set by RequireActor, or nil.
func ActorFromCtx(c *gin.Context) *ActorClaims {
	v, _ := c.Get(ctxActorClaims)
	claims, _ := v.(*ActorClaims)
	return claims
}
