package middleware

import "github.com/gin-gonic/gin"

// RejectFunc aborts a request with status. ONVIF routes answer with a SOAP
// fault, the admin API with JSON.
type RejectFunc func(c *gin.Context, status int, reason string)

// RejectJSON is the RejectFunc used by the admin API.
func RejectJSON(c *gin.Context, status int, reason string) {
	c.AbortWithStatusJSON(status, gin.H{"error": reason})
}

func rejectOr(reject RejectFunc) RejectFunc {
	if reject == nil {
		return RejectJSON
	}
	return reject
}
