package merger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

// minConfigSize is the smallest raw config considered worth parsing.
// Anything shorter is an empty or truncated download.
const minConfigSize = 10

// requiredKeys must all be present at the top level of a raw config.
var requiredKeys = []string{"proxies", "proxy-groups", "rules"}

//go:embed default_mixin.yaml
var defaultMixin []byte

// DefaultMixin returns the mixin written by InitMixin.
func DefaultMixin() *yamldoc.Mapping {
	m, err := yamldoc.Parse(defaultMixin)
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded default mixin: %v", err))
	}
	return m
}

// Paths locates the files owned by a ConfigMerger.
type Paths struct {
	Raw       string
	Backup    string
	Mixin     string
	Runtime   string
	URL       string
	UpdateLog string
}

// DefaultPaths lays the files out under a config and a log directory.
func DefaultPaths(configDir, logDir string) Paths {
	raw := filepath.Join(configDir, "config.yaml")
	return Paths{
		Raw:       raw,
		Backup:    raw + ".bak",
		Mixin:     filepath.Join(configDir, "mixin.yaml"),
		Runtime:   filepath.Join(configDir, "runtime.yaml"),
		URL:       filepath.Join(configDir, "url"),
		UpdateLog: filepath.Join(logDir, "update.log"),
	}
}

// Fetcher downloads a subscription document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Converter turns a subscription that is not a clash config (a list of
// share links, a base64 blob) into one.
type Converter interface {
	Convert(ctx context.Context, url string) ([]byte, error)
}

// ConfigMerger produces the runtime config from the raw subscription
// config and the user's mixin, and keeps the subscription URL and update
// log in step with it. It assumes a single caller at a time.
type ConfigMerger struct {
	Paths     Paths
	Fetcher   Fetcher
	Converter Converter // optional
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *ConfigMerger) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Validate reports whether path holds a usable raw config. It never fails;
// see Check for the reason.
func Validate(path string) bool {
	return Check(path) == nil
}

// Check returns a *ValidationError describing why path is not a usable
// raw config, or nil.
func Check(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ValidationError{Path: path, Reason: "file does not exist"}
		}
		return &ValidationError{Path: path, Reason: err.Error()}
	}
	if info.Size() < minConfigSize {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("file is smaller than %d bytes", minConfigSize)}
	}
	doc, err := yamldoc.Load(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: err.Error()}
	}
	for _, key := range requiredKeys {
		if !doc.Has(key) {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("missing top-level key %q", key)}
		}
	}
	return nil
}

// InitMixin writes the default mixin unless one exists. It reports whether
// a file was created.
func (c *ConfigMerger) InitMixin() (bool, error) {
	if _, err := os.Stat(c.Paths.Mixin); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, &yamldoc.WriteError{Path: c.Paths.Mixin, Err: err}
	}
	if err := yamldoc.Save(DefaultMixin(), c.Paths.Mixin); err != nil {
		return false, err
	}
	slog.Info("created default mixin", "path", c.Paths.Mixin)
	return true, nil
}

func (c *ConfigMerger) Mixin() (*yamldoc.Mapping, error) {
	return yamldoc.Load(c.Paths.Mixin)
}

func (c *ConfigMerger) Runtime() (*yamldoc.Mapping, error) {
	return yamldoc.Load(c.Paths.Runtime)
}

// UpdateMixin merges a partial update into the stored mixin, which starts
// out as the default one. It does not rebuild the runtime config; call
// Merge afterwards.
func (c *ConfigMerger) UpdateMixin(patch *yamldoc.Mapping) error {
	if _, err := c.InitMixin(); err != nil {
		return err
	}
	current, err := c.Mixin()
	if err != nil {
		return err
	}
	if err := yamldoc.Save(yamldoc.DeepMergeOverlay(current, patch), c.Paths.Mixin); err != nil {
		return err
	}
	slog.Debug("updated mixin", "path", c.Paths.Mixin, "keys", patch.Keys())
	return nil
}

// Merge rebuilds the runtime config from the raw config and the mixin.
// The runtime config is left untouched unless the raw config is valid.
func (c *ConfigMerger) Merge() error {
	raw, err := yamldoc.Load(c.Paths.Raw)
	if err != nil {
		return err
	}
	if raw.Len() == 0 {
		return ErrRawConfigMissing
	}
	if err := Check(c.Paths.Raw); err != nil {
		return err
	}
	mixin, err := c.Mixin()
	if err != nil {
		return err
	}
	if err := yamldoc.Save(yamldoc.DeepMergeRuntime(raw, mixin), c.Paths.Runtime); err != nil {
		return err
	}
	slog.Info("runtime config generated", "path", c.Paths.Runtime)
	return nil
}
