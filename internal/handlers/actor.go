package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	actorKey = "actor"
)

// ActorMiddleware reads the identity the upstream gateway already authenticated.
// Only human roles may use the admin API.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.Actor{
			ID:   c.GetHeader(HeaderActorID),
			Role: models.Role(c.GetHeader(HeaderActorRole)),
		}
		if err := actor.Validate(); err != nil || !actor.IsOperator() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid actor headers"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentActor(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": string(role) + " privileges required"})
			return
		}
		c.Next()
	}
}

func currentActor(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(models.Actor); ok {
			return a
		}
	}
	return models.Actor{}
}
