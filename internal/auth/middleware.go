package auth

import "github.com/gin-gonic/gin"

const csrfTokenContextKey = "auth_csrf_token"

// CSRFTokenFromContext retrieves the token the CSRF middleware accepted or issued.
func CSRFTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(csrfTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok && token != ""
}
