// Package hostutil validates host and host:port strings from configuration.
package hostutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// ValidateAddress checks a "host:port" camera address. IPv6 hosts must be
// bracketed ("[fe80::1]:80").
func ValidateAddress(raw string) error {
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return fmt.Errorf("bad address '%s': %v", raw, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("bad port in '%s'", raw)
	}
	return ValidateHost(host)
}

func ValidateHost(raw string) error {
	switch {
	case raw == "":
		return fmt.Errorf("empty host")
	case looksLikeIPv4(raw):
		if !validateIPv4(raw) {
			return fmt.Errorf("bad IP: '%s'", raw)
		}
	case looksLikeIPv6(raw):
		if !validateIPv6(raw) {
			return fmt.Errorf("bad IPv6: '%s'", raw)
		}
	default:
		if !validateHostname(raw) {
			return fmt.Errorf("bad hostname: '%s'", raw)
		}
	}
	return nil
}

// looksLikeIPv4 checks if raw looks like dotted quad
func looksLikeIPv4(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

func validateIPv4(raw string) bool {
	ip := net.ParseIP(raw)
	return ip != nil && ip.To4() != nil
}

// SplitHostPort has already removed any brackets.
func looksLikeIPv6(raw string) bool {
	return strings.Contains(raw, ":")
}

func validateIPv6(raw string) bool {
	ip := net.ParseIP(raw)
	return ip != nil && ip.To16() != nil && ip.To4() == nil
}

// validateHostname checks DNS label rules (RFC 1123)
func validateHostname(raw string) bool {
	if len(raw) > 253 {
		return false
	}
	for _, label := range strings.Split(raw, ".") {
		if len(label) < 1 || len(label) > 63 {
			return false
		}
		for i, r := range label {
			if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
				return false
			}
			// no leading/trailing hyphen
			if (i == 0 || i == len(label)-1) && r == '-' {
				return false
			}
		}
	}
	return true
}
