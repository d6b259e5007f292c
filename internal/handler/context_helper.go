package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Ulrichjack/institut-app-backend/internal/middleware"
	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// adminID returns the authenticated admin identifier, or "" on public routes.
func adminID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}
