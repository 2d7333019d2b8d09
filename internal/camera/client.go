package camera

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/anthonyacole/onvif-proxy/internal/wssec"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrTransport wraps every failure to obtain a 2xx answer from a camera.
var ErrTransport = errors.New("camera transport error")

const (
	SOAPTimeout   = 10 * time.Second
	MotionTimeout = 5 * time.Second

	soapContentType = "application/soap+xml; charset=utf-8"
)

// Client sends requests to one camera. Safe for concurrent use.
type Client struct {
	endpoint Endpoint
	log      *zap.Logger

	soap   *resty.Client
	motion *resty.Client
}

func NewClient(ep Endpoint, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	ep = ep.WithDefaults()

	soapHTTP := resty.New().
		SetTimeout(SOAPTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", soapContentType)

	// The CGI API is served over HTTPS with self-signed certificates. Only this
	// client skips verification.
	motionHTTP := resty.New().
		SetTimeout(MotionTimeout).
		SetRetryCount(0).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec

	return &Client{
		endpoint: ep,
		log:      log.Named("camera").With(zap.String("camera_id", ep.ID)),
		soap:     soapHTTP,
		motion:   motionHTTP,
	}
}

func (c *Client) Endpoint() Endpoint { return c.endpoint }

// SendSOAP posts body, wrapped in an envelope, to path on the camera and
// returns the raw response. A WS-Security header is attached when the camera
// has a username configured.
func (c *Client) SendSOAP(ctx context.Context, path, body string) (string, error) {
	return c.send(ctx, path, soap.RequestNamespaces(), body)
}

// Forward is SendSOAP for a body taken from a client request; namespaces are
// the declarations of the client's envelope, which the body may rely on.
func (c *Client) Forward(ctx context.Context, path string, namespaces []soap.Namespace, body string) (string, error) {
	return c.send(ctx, path, soap.MergeNamespaces(soap.RequestNamespaces(), namespaces), body)
}

func (c *Client) send(ctx context.Context, path string, namespaces []soap.Namespace, body string) (string, error) {
	url := c.endpoint.BaseURL() + path

	var header *soap.Header
	if c.endpoint.Username != "" {
		header = &soap.Header{RawXML: wssec.Header(c.endpoint.Username, c.endpoint.Password)}
	}
	envelope := soap.Serialize(namespaces, header, body)

	c.log.Debug("soap request", zap.String("url", url), zap.Int("bytes", len(envelope)))

	resp, err := c.soap.R().
		SetContext(ctx).
		SetBody(envelope).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("%w: POST %s: %v", ErrTransport, url, err)
	}

	if !resp.IsSuccess() {
		c.log.Warn("camera returned error status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 512)),
		)
		return "", fmt.Errorf("%w: POST %s: status %d", ErrTransport, url, resp.StatusCode())
	}

	c.log.Debug("soap response", zap.String("url", url), zap.Duration("took", resp.Time()))
	return resp.String(), nil
}

type mdStateReply struct {
	Cmd   string `json:"cmd"`
	Code  int    `json:"code"`
	Value struct {
		State int `json:"state"`
	} `json:"value"`
}

// MotionState asks the camera's CGI API whether motion is currently detected.
func (c *Client) MotionState(ctx context.Context) (bool, error) {
	url := "https://" + c.endpoint.httpsAddr() + "/cgi-bin/api.cgi"

	resp, err := c.motion.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cmd":      "GetMdState",
			"channel":  strconv.Itoa(c.endpoint.Channel),
			"user":     c.endpoint.Username,
			"password": c.endpoint.Password,
		}).
		Get(url)
	if err != nil {
		return false, fmt.Errorf("%w: GetMdState: %v", ErrTransport, err)
	}
	if !resp.IsSuccess() {
		return false, fmt.Errorf("%w: GetMdState: status %d", ErrTransport, resp.StatusCode())
	}

	var replies []mdStateReply
	if err := json.Unmarshal(resp.Body(), &replies); err != nil {
		return false, fmt.Errorf("%w: GetMdState: decode: %v", ErrTransport, err)
	}
	if len(replies) == 0 {
		return false, fmt.Errorf("%w: GetMdState: empty reply", ErrTransport)
	}
	if replies[0].Code != 0 {
		return false, fmt.Errorf("%w: GetMdState: code %d", ErrTransport, replies[0].Code)
	}
	return replies[0].Value.State != 0, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
