package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/anthonyacole/onvif-proxy/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LocalAddrSource lists the host's IPv4 addresses. *config.LocalAddrLister
// implements it.
type LocalAddrSource interface {
	GetLocalAddrs(ctx context.Context) ([]config.IPv4Address, error)
}

type LocalAddrHandler struct {
	log     *zap.Logger
	src     LocalAddrSource
	baseURL string
}

// NewLocalAddrHandler constructs a LocalAddrHandler. baseURL is the proxy
// address advertised to ONVIF clients, served alongside the addresses.
func NewLocalAddrHandler(src LocalAddrSource, baseURL string, log *zap.Logger) *LocalAddrHandler {
	return &LocalAddrHandler{
		log:     log.Named("localaddr"),
		src:     src,
		baseURL: baseURL,
	}
}

func (h *LocalAddrHandler) GetLocalAddrList(c *gin.Context) {
	localAddrs, err := h.src.GetLocalAddrs(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.Header("X-Total-Count", strconv.Itoa(len(localAddrs)))
	c.Header("X-Proxy-Base-URL", h.baseURL)
	c.JSON(http.StatusOK, localAddrs)
}
