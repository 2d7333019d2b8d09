package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LimitConcurrentRequests returns a Gin middleware that limits the number of
// requests being processed at once. Requests over maxConcurrent are rejected
// with HTTP 429 through reject (JSON when nil).
//
// Every ONVIF request holds a camera round trip, and PullMessages can hold one
// for its whole timeout, so this is what keeps a misbehaving client from
// exhausting sockets to the cameras.
//
// A maxConcurrent of zero or less disables the limit.
func LimitConcurrentRequests(maxConcurrent int, reject RejectFunc) gin.HandlerFunc {
	if maxConcurrent <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	reject = rejectOr(reject)
	semaphore := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			reject(c, http.StatusTooManyRequests, "too many concurrent requests")
		}
	}
}
