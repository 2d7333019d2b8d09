package quirks

import (
	"net"
	"regexp"
	"strings"
)

var (
	uriRe = regexp.MustCompile(`(?i)\b(rtsp|https?)://([^/\s<>"']+)`)

	servicePathRe = regexp.MustCompile(`https?://[^/\s<>"']+/onvif/(device_service|media_service|event_service|ptz_service|imaging_service|Media2)\b`)

	loopbackHosts = map[string]bool{
		"127.0.0.1": true,
		"localhost": true,
		"0.0.0.0":   true,
	}
)

// LoopbackHosts replaces loopback and placeholder hosts in rtsp/http(s) URIs
// with the host of cameraAddress. The URI's own port and path are kept.
func LoopbackHosts(cameraAddress string) Rule {
	host := cameraAddress
	if h, _, err := net.SplitHostPort(cameraAddress); err == nil {
		host = h
	}

	fix := func(s string) string {
		return uriRe.ReplaceAllStringFunc(s, func(m string) string {
			sub := uriRe.FindStringSubmatch(m)
			scheme, authority := sub[1], sub[2]

			userinfo := ""
			if at := strings.LastIndex(authority, "@"); at >= 0 {
				userinfo, authority = authority[:at+1], authority[at+1:]
			}

			h, port, err := net.SplitHostPort(authority)
			if err != nil {
				h, port = authority, ""
			}
			if !loopbackHosts[strings.ToLower(h)] {
				return m
			}
			if port != "" {
				return scheme + "://" + userinfo + net.JoinHostPort(host, port)
			}
			return scheme + "://" + userinfo + host
		})
	}

	return Rule{Name: "rewrite_loopback_hosts", Apply: mapValues(fix)}
}

// ServiceURLs points absolute camera service URLs back at the gateway:
// http://camera/onvif/media_service becomes {baseURL}/onvif/{cameraID}/media_service.
func ServiceURLs(baseURL, cameraID string) Rule {
	prefix := strings.TrimRight(baseURL, "/") + "/onvif/" + cameraID + "/"
	fix := func(s string) string {
		return servicePathRe.ReplaceAllString(s, prefix+"$1")
	}
	return Rule{Name: "rewrite_service_urls", Apply: mapValues(fix)}
}

// RewriteLoopbackHosts applies LoopbackHosts to a standalone document.
func RewriteLoopbackHosts(xml, cameraAddress string) (string, error) {
	return apply(xml, LoopbackHosts(cameraAddress))
}

// RewriteServiceURLs applies ServiceURLs to a standalone document.
func RewriteServiceURLs(xml, baseURL, cameraID string) (string, error) {
	return apply(xml, ServiceURLs(baseURL, cameraID))
}

func apply(xml string, rules ...Rule) (string, error) {
	return (&Pipeline{}).Translate(xml, rules...)
}
