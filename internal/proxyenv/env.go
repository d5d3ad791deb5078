package proxyenv

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

const (
	DefaultMixedPort      = 7890
	DefaultControllerPort = 9090

	// DefaultNoProxy lists addresses that should bypass the proxy.
	DefaultNoProxy = "localhost,127.0.0.1,::1"
)

// Variables are the environment variables Env sets and UnsetScript clears.
var Variables = []string{
	"http_proxy", "https_proxy", "HTTP_PROXY", "HTTPS_PROXY",
	"all_proxy", "ALL_PROXY", "no_proxy", "NO_PROXY",
}

// Settings describe how local programs reach the proxy kernel.
type Settings struct {
	Port int
	// Auth is "user:password", or empty.
	Auth    string
	NoProxy string
}

// FromRuntime reads the listening port and the first set of credentials
// from a runtime config. Missing or malformed entries fall back to the
// kernel defaults.
func FromRuntime(runtime *yamldoc.Mapping) Settings {
	s := Settings{Port: DefaultMixedPort, NoProxy: DefaultNoProxy}
	if v, ok := runtime.Get("mixed-port"); ok {
		if port, ok := v.AsInt(); ok && port > 0 && port <= 65535 {
			s.Port = int(port)
		}
	}
	if v, ok := runtime.Get("authentication"); ok {
		if creds, ok := v.AsSeq(); ok && len(creds) > 0 {
			s.Auth, _ = creds[0].AsString()
		}
	}
	return s
}

func (s Settings) proxyURL(scheme string) string {
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port))}
	if s.Auth != "" {
		user, pass, found := strings.Cut(s.Auth, ":")
		if found {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

func (s Settings) HTTPProxy() string { return s.proxyURL("http") }

func (s Settings) SOCKSProxy() string { return s.proxyURL("socks5h") }

// Env returns the proxy variables as KEY=VALUE pairs, in the order of
// Variables.
func (s Settings) Env() []string {
	noProxy := s.NoProxy
	if noProxy == "" {
		noProxy = DefaultNoProxy
	}
	values := map[string]string{
		"http_proxy":  s.HTTPProxy(),
		"https_proxy": s.HTTPProxy(),
		"HTTP_PROXY":  s.HTTPProxy(),
		"HTTPS_PROXY": s.HTTPProxy(),
		"all_proxy":   s.SOCKSProxy(),
		"ALL_PROXY":   s.SOCKSProxy(),
		"no_proxy":    noProxy,
		"NO_PROXY":    noProxy,
	}
	env := make([]string, 0, len(Variables))
	for _, name := range Variables {
		env = append(env, name+"="+values[name])
	}
	return env
}

// Shell is a shell family the scripts can be written for.
type Shell string

const (
	Bash Shell = "bash"
	Zsh  Shell = "zsh"
	Fish Shell = "fish"
)

// ShellFromEnv picks the shell family from a $SHELL value, defaulting to
// bash.
func ShellFromEnv(shellPath string) Shell {
	switch filepath.Base(shellPath) {
	case "zsh":
		return Zsh
	case "fish":
		return Fish
	default:
		return Bash
	}
}

// Script returns commands that export the proxy variables in shell,
// meant for eval.
func (s Settings) Script(shell Shell) string {
	var b strings.Builder
	for _, kv := range s.Env() {
		name, value, _ := strings.Cut(kv, "=")
		if shell == Fish {
			fmt.Fprintf(&b, "set -gx %s %s;\n", name, quote(value))
		} else {
			fmt.Fprintf(&b, "export %s=%s\n", name, quote(value))
		}
	}
	return b.String()
}

// UnsetScript returns commands that clear the proxy variables in shell.
func UnsetScript(shell Shell) string {
	if shell == Fish {
		return "set -e " + strings.Join(Variables, " ") + ";\n"
	}
	return "unset " + strings.Join(Variables, " ") + "\n"
}

// quote wraps s in single quotes, which both POSIX shells and fish take
// literally.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
