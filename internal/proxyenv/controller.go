package proxyenv

import (
	"net"
	"strconv"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

// Controller locates the kernel's RESTful API and the web dashboard served
// next to it.
type Controller struct {
	Host   string
	Port   int
	Secret string
}

// ControllerFromRuntime reads external-controller and secret from a
// runtime config.
func ControllerFromRuntime(runtime *yamldoc.Mapping) Controller {
	c := Controller{Host: "0.0.0.0", Port: DefaultControllerPort}
	if v, ok := runtime.Get("external-controller"); ok {
		if addr, ok := v.AsString(); ok {
			host, port, err := net.SplitHostPort(addr)
			if err == nil {
				if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
					c.Port = p
				}
				if host != "" {
					c.Host = host
				}
			}
		}
	}
	if v, ok := runtime.Get("secret"); ok {
		c.Secret, _ = v.AsString()
	}
	return c
}

// UIURL is the dashboard address as seen from host.
func (c Controller) UIURL(host string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port)) + "/ui"
}

// TunEnabled reports whether the runtime config turns on TUN mode.
func TunEnabled(runtime *yamldoc.Mapping) bool {
	v, ok := runtime.Lookup("tun", "enable")
	if !ok {
		return false
	}
	enabled, _ := v.AsBool()
	return enabled
}
