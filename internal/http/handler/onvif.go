package handler

import (
	"errors"
	"io"
	"net/http"

	mw "github.com/anthonyacole/onvif-proxy/internal/http/middleware"
	"github.com/anthonyacole/onvif-proxy/internal/registry"
	"github.com/anthonyacole/onvif-proxy/internal/service"
	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ONVIFHandler serves the per-camera ONVIF endpoints:
//
//	POST /onvif/:cameraId/{device_service,media_service,Media2,event_service}
//	POST /onvif/:cameraId/subscription/:ref
//
// Routes must be mounted behind mw.RequireCamera.
type ONVIFHandler struct {
	log *zap.Logger
	gw  *service.Gateway
}

func NewONVIFHandler(gw *service.Gateway, log *zap.Logger) *ONVIFHandler {
	return &ONVIFHandler{
		log: log.Named("onvif"),
		gw:  gw,
	}
}

// Register mounts every ONVIF route on r.
func (h *ONVIFHandler) Register(r gin.IRouter, reg *registry.Registry) {
	g := r.Group("/onvif/:"+mw.CameraParam, mw.RequireCamera(reg, RejectSOAP))
	for _, svc := range service.Services() {
		g.POST("/"+string(svc), h.Service(svc))
	}
	g.POST("/subscription/:ref", h.Subscription)
}

// Service returns the handler for one ONVIF service endpoint.
func (h *ONVIFHandler) Service(svc service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		env, ok := h.envelope(c)
		if !ok {
			return
		}
		out, err := h.gw.Handle(c.Request.Context(), svc, mw.GetCamera(c), env)
		if err != nil {
			h.fail(c, err)
			return
		}
		writeSOAP(c, out)
	}
}

func (h *ONVIFHandler) Subscription(c *gin.Context) {
	env, ok := h.envelope(c)
	if !ok {
		return
	}
	out, err := h.gw.HandleSubscription(c.Request.Context(), mw.GetCamera(c), c.Param("ref"), env)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeSOAP(c, out)
}

func (h *ONVIFHandler) envelope(c *gin.Context) (*soap.Envelope, bool) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RejectSOAP(c, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		RejectSOAP(c, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}

	env, err := soap.Parse(string(data))
	if err != nil {
		c.Error(err)
		RejectSOAP(c, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return env, true
}

func (h *ONVIFHandler) fail(c *gin.Context, err error) {
	c.Error(err)
	status := statusFor(err)
	reason := err.Error()
	if status == http.StatusInternalServerError {
		// Camera errors can carry response bodies; keep those in the log.
		reason = "camera request failed"
	}
	RejectSOAP(c, status, reason)
}

// Health answers liveness probes.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
