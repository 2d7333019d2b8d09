package events

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultPullTimeout = time.Second

var timeoutRe = regexp.MustCompile(`^PT(\d+)([SM])$`)

// ParseTimeout reads the ISO-8601 forms PT<n>S and PT<n>M. Anything else,
// including fractional values and combined forms like PT1M30S, is one second.
func ParseTimeout(s string) time.Duration {
	m := timeoutRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return DefaultPullTimeout
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultPullTimeout
	}
	if m[2] == "M" {
		return time.Duration(n) * time.Minute
	}
	return time.Duration(n) * time.Second
}
