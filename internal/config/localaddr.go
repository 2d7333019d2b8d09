package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// LocalAddrLister returns bindable IPv4 addresses with a small in-memory cache.
// Used to derive the proxy base URL when none is configured, and served by the
// admin API so operators can see what was picked.
//
// Design choices:
// - Only "global" scoped addresses by default (skip loopback/link-local).
// - IPv4-only; ONVIF clients on camera LANs address devices by IPv4.
// - Read-heavy usage => RWMutex; return a copy of cached data to avoid caller mutations.
type LocalAddrLister struct {
	mu      sync.RWMutex
	cache   []IPv4Address
	expires time.Time
	opts    LocalAddrListerOptions
	now     func() time.Time // for tests; default time.Now

	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

type LocalAddrListerOptions struct {
	TTL                time.Duration // Cache TTL, e.g., 15 * time.Second
	IncludeLoopback    bool          // Include 127.0.0.0/8
	IncludeLinkLocal   bool          // Include 169.254.0.0/16
	RequireInterfaceUp bool          // Only interfaces that are UP
}

func (o *LocalAddrListerOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 15 * time.Second
	}
}

// IPv4Address is one interface address.
type IPv4Address struct {
	Iface     string `json:"iface"`     // e.g. "eth0"
	LocalAddr string `json:"localaddr"` // e.g. "192.168.1.10"
	Scope     string `json:"scope"`     // "global" | "link" | "loopback"
}

var ErrNoAddress = errors.New("no usable local IPv4 address")

func NewLocalAddrLister(opts LocalAddrListerOptions) *LocalAddrLister {
	opts.setDefaults()
	return &LocalAddrLister{
		opts:       opts,
		now:        time.Now,
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// Invalidate clears the cache so the next call refetches immediately.
func (s *LocalAddrLister) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.expires = time.Time{}
	s.mu.Unlock()
}

// GetLocalAddrs returns IPv4 addresses ordered by interface name, then address.
func (s *LocalAddrLister) GetLocalAddrs(ctx context.Context) ([]IPv4Address, error) {
	// Fast path: read lock when cache is fresh
	s.mu.RLock()
	if s.cache != nil && s.now().Before(s.expires) {
		out := append([]IPv4Address(nil), s.cache...)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine could have already refreshed; re-check
	if s.cache != nil && s.now().Before(s.expires) {
		return append([]IPv4Address(nil), s.cache...), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	s.cache = list
	s.expires = s.now().Add(s.opts.TTL)

	return append([]IPv4Address(nil), s.cache...), nil
}

// BaseURL returns http://<first global IPv4>:<port>.
func (s *LocalAddrLister) BaseURL(ctx context.Context, port string) (string, error) {
	addrs, err := s.GetLocalAddrs(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if a.Scope == "global" {
			return "http://" + net.JoinHostPort(a.LocalAddr, port), nil
		}
	}
	return "", ErrNoAddress
}

func (s *LocalAddrLister) list() ([]IPv4Address, error) {
	ifaces, err := s.interfaces()
	if err != nil {
		return nil, err
	}

	var out []IPv4Address
	for _, ifc := range ifaces {
		if s.opts.RequireInterfaceUp && (ifc.Flags&net.FlagUp == 0) {
			continue
		}
		addrs, _ := s.addrs(ifc)
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			default:
				continue
			}
			v4 := ip.To4()
			if v4 == nil {
				continue
			}

			scope := classifyScope(v4)
			switch scope {
			case "loopback":
				if !s.opts.IncludeLoopback {
					continue
				}
			case "link":
				if !s.opts.IncludeLinkLocal {
					continue
				}
			}
			out = append(out, IPv4Address{Iface: ifc.Name, LocalAddr: v4.String(), Scope: scope})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Iface == out[j].Iface {
			return out[i].LocalAddr < out[j].LocalAddr
		}
		return out[i].Iface < out[j].Iface
	})
	return out, nil
}

func classifyScope(ip net.IP) string {
	if ip.IsLoopback() {
		return "loopback"
	}
	// Link-local IPv4: 169.254.0.0/16
	if v4 := ip.To4(); v4 != nil {
		if v4[0] == 169 && v4[1] == 254 {
			return "link"
		}
		return "global"
	}
	if strings.HasPrefix(ip.String(), "fe80:") {
		return "link"
	}
	return "global"
}
