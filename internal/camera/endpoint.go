// Package camera talks to a single ONVIF camera: authenticated SOAP calls and
// the vendor motion-state query.
package camera

import (
	"net"
	"strconv"

	"github.com/anthonyacole/onvif-proxy/internal/quirks"
)

const (
	DefaultModel     = "reolink"
	DefaultHTTPSPort = 443
)

// Endpoint holds the connection facts for one camera. It is treated as
// immutable once registered.
type Endpoint struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Address  string `yaml:"address" json:"address"` // host:port of the ONVIF HTTP service
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password,omitempty"`
	Model    string `yaml:"model" json:"model"`

	Quirks               []string                 `yaml:"quirks" json:"quirks"`
	Rules                []quirks.TranslationRule `yaml:"rules,omitempty" json:"rules,omitempty"`
	EnableSmartDetection bool                     `yaml:"enable_smart_detection" json:"enable_smart_detection"`

	// Motion-state query (HTTPS CGI API).
	HTTPSPort int `yaml:"https_port,omitempty" json:"https_port,omitempty"`
	Channel   int `yaml:"channel,omitempty" json:"channel,omitempty"`
}

// WithDefaults fills unset optional fields.
func (e Endpoint) WithDefaults() Endpoint {
	if e.Model == "" {
		e.Model = DefaultModel
	}
	if e.HTTPSPort == 0 {
		e.HTTPSPort = DefaultHTTPSPort
	}
	return e
}

// BaseURL is the plain-HTTP root of the camera's ONVIF service.
func (e Endpoint) BaseURL() string {
	return "http://" + e.Address
}

// Host returns Address without its port.
func (e Endpoint) Host() string {
	host, _, err := net.SplitHostPort(e.Address)
	if err != nil {
		return e.Address
	}
	return host
}

func (e Endpoint) httpsAddr() string {
	port := e.HTTPSPort
	if port == 0 {
		port = DefaultHTTPSPort
	}
	return net.JoinHostPort(e.Host(), strconv.Itoa(port))
}

// Redacted returns a copy safe to log or serve.
func (e Endpoint) Redacted() Endpoint {
	e.Password = ""
	return e
}
