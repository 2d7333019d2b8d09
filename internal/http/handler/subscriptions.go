package handler

import (
	"net/http"
	"strconv"

	"github.com/anthonyacole/onvif-proxy/internal/events"
	"github.com/gin-gonic/gin"
)

// GetSubscriptionList serves GET /api/subscriptions, optionally filtered by
// ?camera_id=.
func GetSubscriptionList(mgr *events.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cameraID := c.Query("camera_id")
		out := make([]events.Info, 0)
		for _, info := range mgr.List() {
			if cameraID != "" && info.CameraID != cameraID {
				continue
			}
			out = append(out, info)
		}

		c.Header("X-Total-Count", strconv.Itoa(len(out)))
		c.JSON(http.StatusOK, out)
	}
}
