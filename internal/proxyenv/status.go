package proxyenv

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/clash-cli/clashctl/internal/fetch"
)

// CheckURL is requested through the proxy by Check.
const CheckURL = "http://httpbin.org/ip"

const dialTimeout = time.Second

// Status tells whether the current environment uses the proxy and whether
// the proxy is up.
type Status struct {
	// Enabled is set when http_proxy and https_proxy are both set.
	Enabled bool
	// Listening is set when the mixed port accepts connections.
	Listening bool
	Settings  Settings
	// Env holds the value of each of Variables, empty when unset.
	Env map[string]string
}

// CurrentStatus inspects the environment through getenv and dials the
// mixed port on the loopback address.
func CurrentStatus(ctx context.Context, s Settings, getenv func(string) string) Status {
	st := Status{Settings: s, Env: make(map[string]string, len(Variables))}
	for _, name := range Variables {
		st.Env[name] = getenv(name)
	}
	st.Enabled = st.Env["http_proxy"] != "" && st.Env["https_proxy"] != ""

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port)))
	if err == nil {
		conn.Close()
		st.Listening = true
	}
	return st
}

// Check fetches target through the HTTP proxy. An empty target means
// CheckURL.
func Check(ctx context.Context, s Settings, target string, timeout time.Duration) error {
	if target == "" {
		target = CheckURL
	}
	proxyURL, err := url.Parse(s.HTTPProxy())
	if err != nil {
		return err
	}
	client := &fetch.Client{
		Timeout:   timeout,
		MaxBytes:  64 << 10,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	_, err = client.Fetch(ctx, target)
	return err
}
