package middleware

import (
	"errors"
	"net/http"

	"github.com/anthonyacole/onvif-proxy/internal/registry"
	"github.com/gin-gonic/gin"
)

const (
	CameraParam = "cameraId"
	cameraKey   = "camera"
)

// RequireCamera resolves the ":cameraId" path param against reg and stores the
// entry in the Gin context. Unknown or malformed IDs are rejected with 404
// before any body is read.
func RequireCamera(reg *registry.Registry, reject RejectFunc) gin.HandlerFunc {
	reject = rejectOr(reject)
	return func(c *gin.Context) {
		id := c.Param(CameraParam)
		if !registry.ValidID(id) {
			reject(c, http.StatusNotFound, "unknown camera")
			return
		}
		entry, err := reg.Get(id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				reject(c, http.StatusNotFound, "unknown camera: "+id)
				return
			}
			c.Error(err)
			reject(c, http.StatusInternalServerError, "camera lookup failed")
			return
		}
		c.Set(cameraKey, entry)
		c.Next()
	}
}

// GetCamera returns the entry stored by RequireCamera, or nil.
func GetCamera(c *gin.Context) *registry.Entry {
	if v, ok := c.Get(cameraKey); ok {
		if e, ok := v.(*registry.Entry); ok {
			return e
		}
	}
	return nil
}
