package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/anthonyacole/onvif-proxy/internal/events"
	mw "github.com/anthonyacole/onvif-proxy/internal/http/middleware"
	"github.com/anthonyacole/onvif-proxy/internal/quirks"
	"github.com/anthonyacole/onvif-proxy/internal/registry"
	"github.com/anthonyacole/onvif-proxy/pkg/jsonx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CamerasHandler is the JSON admin API over the camera registry. Passwords
// are accepted but never returned.
type CamerasHandler struct {
	log    *zap.Logger
	reg    *registry.Registry
	events *events.Manager
}

func NewCamerasHandler(reg *registry.Registry, mgr *events.Manager, log *zap.Logger) *CamerasHandler {
	return &CamerasHandler{
		log:    log.Named("cameras"),
		reg:    reg,
		events: mgr,
	}
}

// Register mounts the camera collection and resource routes on r.
func (h *CamerasHandler) Register(r gin.IRouter) {
	requireCamera := mw.RequireCamera(h.reg, mw.RejectJSON)

	r.GET("/api/cameras", h.GetCameraList)
	r.GET("/api/cameras/:"+mw.CameraParam, requireCamera, h.GetCamera)
	r.PUT("/api/cameras/:"+mw.CameraParam, h.PutCamera)
	r.PATCH("/api/cameras/:"+mw.CameraParam, requireCamera, h.PatchCamera)
	r.DELETE("/api/cameras/:"+mw.CameraParam, requireCamera, h.DeleteCamera)
}

// cameraView is what the API returns for one camera.
type cameraView struct {
	camera.Endpoint
	Pipeline []string `json:"pipeline"` // resolved translation rules, in order
}

func viewOf(e *registry.Entry) cameraView {
	return cameraView{Endpoint: e.Endpoint.Redacted(), Pipeline: e.Pipeline.Rules()}
}

func (h *CamerasHandler) GetCameraList(c *gin.Context) {
	eps := h.reg.List()
	out := make([]camera.Endpoint, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.Redacted())
	}

	c.Header("X-Total-Count", strconv.Itoa(len(out)))
	c.JSON(http.StatusOK, out)
}

func (h *CamerasHandler) GetCamera(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(mw.GetCamera(c)))
}

// PutCamera creates or replaces a camera. An empty password keeps the stored
// one, so a GET/PUT round trip does not wipe credentials.
func (h *CamerasHandler) PutCamera(c *gin.Context) {
	id := c.Param(mw.CameraParam)

	var ep camera.Endpoint
	if err := jsonx.ParseStrictJSONBody(c.Request, &ep); err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ep.ID == "" {
		ep.ID = id
	}
	if ep.ID != id {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id in body does not match path"})
		return
	}

	status := http.StatusCreated
	if prev, err := h.reg.Get(id); err == nil {
		status = http.StatusOK
		if ep.Password == "" {
			ep.Password = prev.Endpoint.Password
		}
	}
	h.save(c, ep, status)
}

// cameraPatch lists the fields PATCH may change. Absent keys are left alone.
type cameraPatch struct {
	Name                 jsonx.Field[string]                   `json:"name"`
	Address              jsonx.Field[string]                   `json:"address"`
	Username             jsonx.Field[string]                   `json:"username"`
	Password             jsonx.Field[string]                   `json:"password"`
	Model                jsonx.Field[string]                   `json:"model"`
	Quirks               jsonx.Field[[]string]                 `json:"quirks"`
	Rules                jsonx.Field[[]quirks.TranslationRule] `json:"rules"`
	EnableSmartDetection jsonx.Field[bool]                     `json:"enable_smart_detection"`
	HTTPSPort            jsonx.Field[int]                      `json:"https_port"`
	Channel              jsonx.Field[int]                      `json:"channel"`
}

func (p cameraPatch) apply(ep *camera.Endpoint) {
	p.Name.Apply(&ep.Name)
	p.Address.Apply(&ep.Address)
	p.Username.Apply(&ep.Username)
	p.Password.Apply(&ep.Password)
	p.Model.Apply(&ep.Model)
	p.Quirks.Apply(&ep.Quirks)
	p.Rules.Apply(&ep.Rules)
	p.EnableSmartDetection.Apply(&ep.EnableSmartDetection)
	p.HTTPSPort.Apply(&ep.HTTPSPort)
	p.Channel.Apply(&ep.Channel)
}

func (h *CamerasHandler) PatchCamera(c *gin.Context) {
	var patch cameraPatch
	if err := jsonx.ParseStrictJSONBody(c.Request, &patch); err != nil {
		c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ep := mw.GetCamera(c).Endpoint
	patch.apply(&ep)
	h.save(c, ep, http.StatusOK)
}

func (h *CamerasHandler) DeleteCamera(c *gin.Context) {
	id := mw.GetCamera(c).Endpoint.ID
	if err := h.reg.Remove(c.Request.Context(), id); err != nil {
		c.Error(err)
		if errors.Is(err, registry.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "camera removal failed"})
		return
	}
	h.events.DropCamera(id)
	h.log.Info("camera removed", zap.String("camera_id", id))
	c.Status(http.StatusNoContent)
}

func (h *CamerasHandler) save(c *gin.Context, ep camera.Endpoint, status int) {
	entry, err := h.reg.Upsert(c.Request.Context(), ep)
	if err != nil {
		c.Error(err)
		if errors.Is(err, registry.ErrInvalid) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "camera update failed"})
		return
	}
	// Live subscriptions hold the previous client.
	h.events.DropCamera(entry.Endpoint.ID)
	c.JSON(status, viewOf(entry))
}
