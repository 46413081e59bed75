package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the gateway in front of the service
const (
	HeaderCompanyID = "X-Company-ID"
	HeaderUserID    = "X-User-ID"
)

const (
	companyIDKey = "company_id"
	userIDKey    = "user_id"
)

// Identity requires the company and user headers and stores them on the
// context. It scopes requests to a tenant; it does not authenticate them.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyID := strings.TrimSpace(c.GetHeader(HeaderCompanyID))
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))

		if companyID == "" || userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + HeaderCompanyID + " or " + HeaderUserID + " header"})
			c.Abort()
			return
		}

		c.Set(companyIDKey, companyID)
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// IdentityFrom returns the company and user stored by Identity
func IdentityFrom(c *gin.Context) (companyID, userID string) {
	return c.GetString(companyIDKey), c.GetString(userIDKey)
}
