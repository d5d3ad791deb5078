package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clash-cli/clashctl/internal/conf"
	"github.com/clash-cli/clashctl/internal/fetch"
	"github.com/clash-cli/clashctl/internal/merger"
	"github.com/clash-cli/clashctl/internal/service"
)

func TestExitCode(t *testing.T) {
	network := &fetch.NetworkError{URL: "https://example.com/sub", Message: "request failed", Err: errors.New("connection refused")}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "generic failure", err: errors.New("boom"), want: exitFailure},
		{name: "not root", err: errNotRoot, want: exitPermission},
		{name: "wrapped permission", err: fmt.Errorf("cannot write: %w", os.ErrPermission), want: exitPermission},
		{name: "network failure", err: fmt.Errorf("sync: %w", network), want: exitTransient},
		{name: "service timeout", err: fmt.Errorf("%w: start job", service.ErrTimeout), want: exitTransient},
		{
			name: "invalid subscription after conversion network failure",
			err:  &merger.SubscriptionInvalidError{URL: "https://example.com/sub", Err: network},
			want: exitFailure,
		},
		{name: "raw config missing", err: merger.ErrRawConfigMissing, want: exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "raw missing", err: fmt.Errorf("merge: %w", merger.ErrRawConfigMissing), contains: "update"},
		{name: "no url", err: merger.ErrNoSubscriptionURL, contains: "URL"},
		{name: "no backup", err: merger.ErrNoBackup, contains: "roll back"},
		{name: "not installed", err: service.ErrNotInstalled, contains: "install"},
		{name: "invalid subscription", err: &merger.SubscriptionInvalidError{URL: "u"}, contains: "kept"},
		{name: "not root", err: errNotRoot, contains: "root"},
		{name: "nothing to add", err: errors.New("boom"), contains: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.err)
			if tt.contains == "" {
				if got != "" {
					t.Errorf("describe() = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("describe() = %q, want it to mention %q", got, tt.contains)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "  yes  \n", want: true},
		{input: "yes", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
		{input: "maybe\n", want: false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			var out bytes.Buffer
			if got := confirm(strings.NewReader(tt.input), &out, "Proceed?"); got != tt.want {
				t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.HasPrefix(out.String(), "Proceed? [y/N] ") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestRequireRoot(t *testing.T) {
	orig := geteuid
	t.Cleanup(func() { geteuid = orig })

	geteuid = func() int { return 0 }
	if err := requireRoot(); err != nil {
		t.Errorf("requireRoot() as root = %v", err)
	}

	geteuid = func() int { return 1000 }
	err := requireRoot()
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("requireRoot() as user = %v, want permission error", err)
	}
}

// runApp runs the CLI with a config file under a temporary directory and
// restores the global state afterwards.
func runApp(t *testing.T, configBody string, args ...string) error {
	t.Helper()
	origConfig := config
	origLogger := slog.Default()
	t.Cleanup(func() {
		config = origConfig
		slog.SetDefault(origLogger)
	})

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(configBody), 0o644); err != nil {
		t.Fatal(err)
	}
	return newApp().Run(append([]string{"clashctl", "--config", path}, args...))
}

func TestConfigFlag(t *testing.T) {
	base := filepath.Join(t.TempDir(), "clash")
	body := fmt.Sprintf("base-dir = %q\nkernel = \"clash\"\nlog-level = \"DEBUG\"\n", base)

	if err := runApp(t, body, "proxy", "--shell", "fish", "unset"); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	want := conf.Defaults()
	want.BaseDir = base
	want.Kernel = "clash"
	want.LogLevel = slog.LevelDebug
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLogLevelFlag(t *testing.T) {
	if err := runApp(t, "", "--log-level", "loud", "proxy", "unset"); err == nil || !strings.Contains(err.Error(), "loud") {
		t.Errorf("Run() = %v, want unknown log level error", err)
	}
	if err := runApp(t, "", "--log-level", "warn", "proxy", "unset"); err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestMalformedConfigFile(t *testing.T) {
	if err := runApp(t, "base-dir = \n", "proxy", "unset"); err == nil {
		t.Error("Run() with malformed config succeeded")
	}
}

func TestCommandsRequireRoot(t *testing.T) {
	orig := geteuid
	t.Cleanup(func() { geteuid = orig })
	geteuid = func() int { return 1000 }

	body := fmt.Sprintf("base-dir = %q\n", filepath.Join(t.TempDir(), "clash"))
	for _, args := range [][]string{
		{"install"},
		{"uninstall", "--yes"},
		{"on"},
		{"off"},
		{"restart"},
		{"update", "https://example.com/sub"},
		{"update", "rollback"},
		{"secret", "hunter2"},
		{"tun", "on"},
		{"mixin", "set", "mixed-port=7891"},
		{"merge"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			err := runApp(t, body, args...)
			if exitCode(err) != exitPermission {
				t.Errorf("Run(%v) = %v, want permission error", args, err)
			}
		})
	}
}

func TestTunRejectsUnknownArgument(t *testing.T) {
	body := fmt.Sprintf("base-dir = %q\n", filepath.Join(t.TempDir(), "clash"))
	err := runApp(t, body, "tun", "sideways")
	if err == nil || !strings.Contains(err.Error(), "sideways") {
		t.Errorf("Run() = %v, want unknown argument error", err)
	}
}

func TestUpdateLogWithoutHistory(t *testing.T) {
	body := fmt.Sprintf("base-dir = %q\n", filepath.Join(t.TempDir(), "clash"))
	if err := runApp(t, body, "update", "log", "-n", "5"); err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestProxyStatus(t *testing.T) {
	body := fmt.Sprintf("base-dir = %q\n", filepath.Join(t.TempDir(), "clash"))
	if err := runApp(t, body, "proxy"); err != nil {
		t.Errorf("Run() = %v", err)
	}
}
