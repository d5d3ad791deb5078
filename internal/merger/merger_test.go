package merger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

const validRaw = `proxies:
  - name: hk-01
    type: ss
    server: hk.example.com
    port: 8388
proxy-groups:
  - name: PROXY
    type: select
    proxies: [hk-01]
rules:
  - DOMAIN-SUFFIX,google.com,PROXY
  - MATCH,DIRECT
`

func newTestMerger(t *testing.T) *ConfigMerger {
	t.Helper()
	dir := t.TempDir()
	return &ConfigMerger{
		Paths: DefaultPaths(filepath.Join(dir, "config"), filepath.Join(dir, "logs")),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		content  *string
		expected bool
	}{
		{name: "absent file", content: nil, expected: false},
		{name: "below minimum size", content: strPtr("rules: []"), expected: false},
		{name: "malformed", content: strPtr("proxies: [\nproxy-groups: {\n"), expected: false},
		{name: "missing rules", content: strPtr("proxies: []\nproxy-groups: []\n"), expected: false},
		{name: "missing proxy-groups", content: strPtr("proxies: []\nrules: []\n"), expected: false},
		{name: "root is a list", content: strPtr("- proxies\n- proxy-groups\n- rules\n"), expected: false},
		{name: "anchor inside itself", content: strPtr("a: &x [*x]\nproxies: []\nproxy-groups: []\nrules: []\n"), expected: false},
		{name: "nested aliases", content: strPtr(nestedAliases), expected: false},
		{name: "all required keys", content: strPtr("proxies: []\nproxy-groups: []\nrules: []\n"), expected: true},
		{name: "full config", content: strPtr(validRaw), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if tt.content != nil {
				writeFile(t, path, *tt.content)
			}
			if got := Validate(path); got != tt.expected {
				t.Errorf("Validate() = %v, want %v (reason: %v)", got, tt.expected, Check(path))
			}
			if err := Check(path); tt.expected == false {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("Check() = %T %v, want *ValidationError", err, err)
				}
			}
		})
	}
}

func strPtr(s string) *string { return &s }

// nestedAliases expands to 10^7 scalars.
const nestedAliases = `proxies: []
proxy-groups: []
rules: []
a: &a [x, x, x, x, x, x, x, x, x, x]
b: &b [*a, *a, *a, *a, *a, *a, *a, *a, *a, *a]
c: &c [*b, *b, *b, *b, *b, *b, *b, *b, *b, *b]
d: &d [*c, *c, *c, *c, *c, *c, *c, *c, *c, *c]
e: &e [*d, *d, *d, *d, *d, *d, *d, *d, *d, *d]
f: &f [*e, *e, *e, *e, *e, *e, *e, *e, *e, *e]
g: [*f, *f, *f, *f, *f, *f, *f, *f, *f, *f]
`

func TestMerge(t *testing.T) {
	c := newTestMerger(t)
	writeFile(t, c.Paths.Raw, validRaw)
	writeFile(t, c.Paths.Mixin, "rules:\n  - DOMAIN,api64.ipify.org,DIRECT\nmixed-port: 7891\ntun:\n  enable: true\n")

	if err := c.Merge(); err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	runtime, err := yamldoc.Load(c.Paths.Runtime)
	if err != nil {
		t.Fatalf("failed to load runtime: %v", err)
	}

	rules, _ := runtime.Get("rules")
	expectedRules := yamldoc.From([]string{
		"DOMAIN,api64.ipify.org,DIRECT",
		"DOMAIN-SUFFIX,google.com,PROXY",
		"MATCH,DIRECT",
	})
	if diff := cmp.Diff(expectedRules, rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
	if v, _ := runtime.Lookup("tun", "enable"); !v.Equal(yamldoc.Bool(true)) {
		t.Errorf("tun.enable = %v, want true", v.Literal())
	}
	if v, _ := runtime.Get("mixed-port"); !v.Equal(yamldoc.Int(7891)) {
		t.Errorf("mixed-port = %v, want 7891", v.Literal())
	}
	if !runtime.Has("proxies") || !runtime.Has("proxy-groups") {
		t.Errorf("runtime lost raw keys: %v", runtime.Keys())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	c := newTestMerger(t)
	writeFile(t, c.Paths.Raw, validRaw)
	if _, err := c.InitMixin(); err != nil {
		t.Fatalf("InitMixin() error: %v", err)
	}

	if err := c.Merge(); err != nil {
		t.Fatalf("first Merge() error: %v", err)
	}
	first, err := c.Runtime()
	if err != nil {
		t.Fatalf("failed to load runtime: %v", err)
	}
	if err := c.Merge(); err != nil {
		t.Fatalf("second Merge() error: %v", err)
	}
	second, err := c.Runtime()
	if err != nil {
		t.Fatalf("failed to load runtime: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("runtime changed between merges (-first +second):\n%s", diff)
	}
}

func TestMergeRequiresRawConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     *string
		wantErr func(error) bool
	}{
		{
			name:    "missing raw",
			raw:     nil,
			wantErr: func(err error) bool { return errors.Is(err, ErrRawConfigMissing) },
		},
		{
			name:    "empty raw",
			raw:     strPtr(""),
			wantErr: func(err error) bool { return errors.Is(err, ErrRawConfigMissing) },
		},
		{
			name: "raw without rules",
			raw:  strPtr("proxies: []\nproxy-groups: []\n"),
			wantErr: func(err error) bool {
				var ve *ValidationError
				return errors.As(err, &ve)
			},
		},
		{
			name: "malformed raw",
			raw:  strPtr("proxies: [\n"),
			wantErr: func(err error) bool {
				var pe *yamldoc.ParseError
				return errors.As(err, &pe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestMerger(t)
			if tt.raw != nil {
				writeFile(t, c.Paths.Raw, *tt.raw)
			}
			writeFile(t, c.Paths.Runtime, "previous: runtime\n")

			err := c.Merge()
			if !tt.wantErr(err) {
				t.Fatalf("Merge() error = %T %v", err, err)
			}
			if got := readFile(t, c.Paths.Runtime); got != "previous: runtime\n" {
				t.Errorf("runtime was overwritten: %q", got)
			}
		})
	}
}

func TestInitMixin(t *testing.T) {
	c := newTestMerger(t)

	created, err := c.InitMixin()
	if err != nil {
		t.Fatalf("InitMixin() error: %v", err)
	}
	if !created {
		t.Fatal("expected mixin to be created")
	}
	mixin, err := c.Mixin()
	if err != nil {
		t.Fatalf("Mixin() error: %v", err)
	}
	if diff := cmp.Diff(DefaultMixin(), mixin); diff != "" {
		t.Errorf("mixin mismatch (-want +got):\n%s", diff)
	}

	writeFile(t, c.Paths.Mixin, "secret: mine\n")
	created, err = c.InitMixin()
	if err != nil {
		t.Fatalf("second InitMixin() error: %v", err)
	}
	if created {
		t.Error("existing mixin was replaced")
	}
	if got := readFile(t, c.Paths.Mixin); got != "secret: mine\n" {
		t.Errorf("mixin = %q", got)
	}
}

func TestUpdateMixin(t *testing.T) {
	c := newTestMerger(t)
	writeFile(t, c.Paths.Mixin, "secret: old\ntun:\n  enable: false\n  stack: system\nrules:\n  - MATCH,DIRECT\n")

	patch := yamldoc.MappingOf("tun", yamldoc.MappingOf("enable", true), "rules", []string{"DOMAIN,a.com,DIRECT"})
	if err := c.UpdateMixin(patch); err != nil {
		t.Fatalf("UpdateMixin() error: %v", err)
	}

	got, err := c.Mixin()
	if err != nil {
		t.Fatalf("Mixin() error: %v", err)
	}
	expected := yamldoc.MappingOf(
		"secret", "old",
		"tun", yamldoc.MappingOf("enable", true, "stack", "system"),
		"rules", []string{"DOMAIN,a.com,DIRECT"},
	)
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("mixin mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(c.Paths.Runtime); !os.IsNotExist(err) {
		t.Errorf("UpdateMixin must not write the runtime config (stat err: %v)", err)
	}
}

func TestUpdateMixinStartsFromDefault(t *testing.T) {
	c := newTestMerger(t)

	if err := c.UpdateMixin(yamldoc.MappingOf("secret", "s3cret")); err != nil {
		t.Fatalf("UpdateMixin() error: %v", err)
	}

	got, err := c.Mixin()
	if err != nil {
		t.Fatalf("Mixin() error: %v", err)
	}
	expected := DefaultMixin()
	expected.Set("secret", yamldoc.String("s3cret"))
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("mixin mismatch (-want +got):\n%s", diff)
	}

	created, err := c.InitMixin()
	if err != nil || created {
		t.Errorf("InitMixin() = %v, %v; want the updated mixin kept", created, err)
	}
}

func TestUpdateMixinMalformed(t *testing.T) {
	c := newTestMerger(t)
	writeFile(t, c.Paths.Mixin, "tun: [\n")

	err := c.UpdateMixin(yamldoc.MappingOf("secret", "x"))
	var pe *yamldoc.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *yamldoc.ParseError, got %T: %v", err, err)
	}
	if got := readFile(t, c.Paths.Mixin); got != "tun: [\n" {
		t.Errorf("malformed mixin was overwritten: %q", got)
	}
}
