package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthonyacole/onvif-proxy/internal/quirks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
proxy:
  listen_address: 0.0.0.0:9000
  base_url: http://10.0.0.5:9000/
log:
  level: debug
events:
  poll_interval: 250ms
  lifetime: 120s
cameras:
  - id: front-door
    address: 192.168.1.10:8000
    username: admin
    password: secret
    quirks: [fix_device_info_namespace, translate_smart_events]
    rules:
      - name: vehicle
        kind: topic_map
        pattern: reo:VehicleDetect
        replacement: tns1:RuleEngine/CellMotionDetector/Motion
  - id: garage
    address: 192.168.1.11:8000
    model: Reolink
`

// clearEnv unsets every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{KeyConfigPath, KeyBaseURL, KeyListenAddress, KeyRedisAddress, KeyLogLevel, KeyEnv} {
		t.Setenv(strings.ToUpper(k), "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func load(t *testing.T, body string) (*Config, error) {
	t.Helper()
	v := NewViper()
	v.Set(KeyConfigPath, writeConfig(t, body))
	return Load(v)
}

func TestLoadSample(t *testing.T) {
	clearEnv(t)

	cfg, err := load(t, sample)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Proxy.ListenAddress)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.Proxy.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "9000", cfg.ListenPort())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, DefaultMaxInFlight, cfg.Proxy.MaxInFlight)
	assert.Equal(t, DefaultKeyPrefix, cfg.Redis.KeyPrefix)

	assert.Equal(t, 250*time.Millisecond, cfg.Events.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.Events.Lifetime)
	assert.Equal(t, 100, cfg.Events.CacheSize)

	require.Len(t, cfg.Cameras, 2)
	front := cfg.Cameras[0]
	assert.Equal(t, "reolink", front.Model)
	assert.Equal(t, 443, front.HTTPSPort)
	assert.Equal(t, []string{quirks.QuirkFixDeviceInfoNamespace, quirks.QuirkTranslateSmartEvents}, front.Quirks)
	require.Len(t, front.Rules, 1)
	assert.Equal(t, quirks.KindTopic, front.Rules[0].Kind)
	assert.Equal(t, "Reolink", cfg.Cameras[1].Model)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "http://proxy.lan:9000")
	t.Setenv("LISTEN_ADDRESS", "127.0.0.1:9100")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("ENV", "dev")

	cfg, err := load(t, sample)
	require.NoError(t, err)

	assert.Equal(t, "http://proxy.lan:9000", cfg.Proxy.BaseURL)
	assert.Equal(t, "127.0.0.1:9100", cfg.Proxy.ListenAddress)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.IsDev())
}

func TestConfigPathFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, "log:\n  level: error\n"))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Empty(t, cfg.Cameras)
}

func TestEmptyFileGetsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddress, cfg.Proxy.ListenAddress)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.Events.PollInterval)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"duplicate id": {
			body: "cameras:\n  - {id: a, address: 'h:1'}\n  - {id: a, address: 'h:2'}\n",
			want: `duplicate id "a"`,
		},
		"empty id": {
			body: "cameras:\n  - {address: 'h:1'}\n",
			want: "cameras[0]",
		},
		"missing address": {
			body: "cameras:\n  - {id: a}\n",
			want: "address is required",
		},
		"unknown key": {
			body: "proxy:\n  listen_adress: 0.0.0.0:1\n",
			want: "listen_adress",
		},
		"bad level": {
			body: "log:\n  level: loud\n",
			want: "log.level",
		},
		"bad base url": {
			body: "proxy:\n  base_url: proxy.lan\n",
			want: "proxy.base_url",
		},
		"bad listen address": {
			body: "proxy:\n  listen_address: nowhere\n",
			want: "proxy.listen_address",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			_, err := load(t, tc.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	v := NewViper()
	v.Set(KeyConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load(v)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func fakeLister(addrs map[string][]string) *LocalAddrLister {
	l := NewLocalAddrLister(LocalAddrListerOptions{})
	l.interfaces = func() ([]net.Interface, error) {
		var out []net.Interface
		for name := range addrs {
			out = append(out, net.Interface{Name: name, Flags: net.FlagUp})
		}
		return out, nil
	}
	l.addrs = func(i net.Interface) ([]net.Addr, error) {
		var out []net.Addr
		for _, s := range addrs[i.Name] {
			ip, ipnet, err := net.ParseCIDR(s)
			if err != nil {
				return nil, err
			}
			ipnet.IP = ip
			out = append(out, ipnet)
		}
		return out, nil
	}
	return l
}

func TestLocalAddrListerSkipsNonGlobal(t *testing.T) {
	l := fakeLister(map[string][]string{
		"lo":   {"127.0.0.1/8", "::1/128"},
		"eth1": {"192.168.1.5/24", "fe80::1/64"},
		"eth0": {"169.254.3.3/16", "10.0.0.7/8"},
	})

	got, err := l.GetLocalAddrs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []IPv4Address{
		{Iface: "eth0", LocalAddr: "10.0.0.7", Scope: "global"},
		{Iface: "eth1", LocalAddr: "192.168.1.5", Scope: "global"},
	}, got)

	url, err := l.BaseURL(context.Background(), "8000")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.7:8000", url)
}

func TestLocalAddrListerCaches(t *testing.T) {
	l := fakeLister(map[string][]string{"eth0": {"10.0.0.7/8"}})
	calls := 0
	inner := l.interfaces
	l.interfaces = func() ([]net.Interface, error) { calls++; return inner() }

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	_, _ = l.GetLocalAddrs(context.Background())
	_, _ = l.GetLocalAddrs(context.Background())
	assert.Equal(t, 1, calls)

	now = now.Add(time.Minute)
	_, _ = l.GetLocalAddrs(context.Background())
	assert.Equal(t, 2, calls)

	l.Invalidate()
	_, _ = l.GetLocalAddrs(context.Background())
	assert.Equal(t, 3, calls)
}

func TestLocalAddrListerNoAddress(t *testing.T) {
	l := fakeLister(map[string][]string{"lo": {"127.0.0.1/8"}})

	_, err := l.BaseURL(context.Background(), "8000")
	assert.ErrorIs(t, err, ErrNoAddress)
}
