package handler

import (
	"errors"
	"net/http"

	"github.com/anthonyacole/onvif-proxy/internal/events"
	"github.com/anthonyacole/onvif-proxy/internal/service"
	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/gin-gonic/gin"
)

const soapContentType = "application/soap+xml; charset=utf-8"

// RejectSOAP aborts with a SOAP fault. Used as the middleware RejectFunc on
// ONVIF routes, where clients expect an envelope even on failure.
func RejectSOAP(c *gin.Context, status int, reason string) {
	code, subcode := faultCodes(status)
	c.Data(status, soapContentType, []byte(soap.Fault(code, subcode, reason)))
	c.Abort()
}

func writeSOAP(c *gin.Context, body string) {
	c.Data(http.StatusOK, soapContentType, []byte(body))
}

// statusFor maps a gateway error to the HTTP status returned to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, soap.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, events.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, events.ErrClosed):
		return http.StatusServiceUnavailable
	}
	// camera.ErrTransport, events.ErrUpstreamResponse and anything unexpected.
	return http.StatusInternalServerError
}

func faultCodes(status int) (soap.FaultCode, string) {
	switch status {
	case http.StatusBadRequest:
		return soap.FaultSender, soap.SubcodeInvalidArgs
	case http.StatusNotFound:
		return soap.FaultSender, soap.SubcodeNotFound
	case http.StatusNotImplemented:
		return soap.FaultSender, soap.SubcodeActionNotSupported
	}
	return soap.FaultReceiver, soap.SubcodeUpstream
}
