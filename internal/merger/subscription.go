package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

var errNoFetcher = errors.New("no fetcher configured")

// ApplySubscription downloads url and installs it as the raw config.
//
// The current raw config is first copied to the backup path. If the
// download is not a valid clash config the Converter is asked for one.
// When neither is valid the previous raw config is restored from the
// backup and a *SubscriptionInvalidError is returned. Download failures
// leave the raw config untouched. Every call appends one entry to the
// update log.
func (c *ConfigMerger) ApplySubscription(ctx context.Context, url string) (err error) {
	defer func() { c.appendLog(url, err) }()

	if c.Fetcher == nil {
		return errNoFetcher
	}

	hadRaw, err := c.backupRaw()
	if err != nil {
		return err
	}

	body, err := c.Fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := c.writeRaw(body); err != nil {
		return err
	}

	verr := Check(c.Paths.Raw)
	if verr == nil {
		slog.Info("subscription downloaded", "url", url, "bytes", len(body))
		return c.saveURL(url)
	}
	if c.Converter == nil {
		return c.rollback(hadRaw, &SubscriptionInvalidError{URL: url, Err: verr})
	}

	slog.Warn("downloaded config is not valid, trying subscription conversion", "url", url, "reason", verr)
	converted, cerr := c.Converter.Convert(ctx, url)
	if cerr != nil {
		return c.rollback(hadRaw, &SubscriptionInvalidError{URL: url, Err: cerr})
	}
	if err := c.writeRaw(converted); err != nil {
		return c.rollback(hadRaw, err)
	}
	if verr := Check(c.Paths.Raw); verr != nil {
		return c.rollback(hadRaw, &SubscriptionInvalidError{URL: url, Err: verr})
	}
	slog.Info("subscription converted", "url", url, "bytes", len(converted))
	return c.saveURL(url)
}

// Sync applies a subscription and rebuilds the runtime config. An empty
// url means the stored subscription URL. The URL used is returned.
func (c *ConfigMerger) Sync(ctx context.Context, url string) (string, error) {
	if url == "" {
		stored, ok := c.SubscriptionURL()
		if !ok {
			return "", ErrNoSubscriptionURL
		}
		url = stored
	}
	if err := c.ApplySubscription(ctx, url); err != nil {
		return url, err
	}
	return url, c.Merge()
}

// SubscriptionURL returns the URL of the last subscription applied
// successfully.
func (c *ConfigMerger) SubscriptionURL() (string, bool) {
	data, err := os.ReadFile(c.Paths.URL)
	if err != nil {
		return "", false
	}
	url := strings.TrimSpace(string(data))
	return url, url != ""
}

// RestoreBackup puts the previous raw config back in place. The runtime
// config is not rebuilt.
func (c *ConfigMerger) RestoreBackup() error {
	if _, err := os.Stat(c.Paths.Backup); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoBackup
		}
		return err
	}
	if err := copyFile(c.Paths.Backup, c.Paths.Raw); err != nil {
		return &yamldoc.WriteError{Path: c.Paths.Raw, Err: err}
	}
	slog.Info("raw config restored from backup", "backup", c.Paths.Backup)
	return nil
}

// backupRaw copies the raw config over the backup and reports whether
// there was a raw config to copy.
func (c *ConfigMerger) backupRaw() (bool, error) {
	if _, err := os.Stat(c.Paths.Raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &yamldoc.WriteError{Path: c.Paths.Backup, Err: err}
	}
	if err := copyFile(c.Paths.Raw, c.Paths.Backup); err != nil {
		return false, &yamldoc.WriteError{Path: c.Paths.Backup, Err: err}
	}
	slog.Debug("backed up raw config", "backup", c.Paths.Backup)
	return true, nil
}

// rollback undoes a rejected subscription: the backup is restored, or the
// raw config removed when there was none before. cause is returned, joined
// with any failure to restore.
func (c *ConfigMerger) rollback(hadRaw bool, cause error) error {
	var err error
	if hadRaw {
		err = copyFile(c.Paths.Backup, c.Paths.Raw)
	} else if err = os.Remove(c.Paths.Raw); errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if err != nil {
		slog.Error("failed to roll back raw config", "path", c.Paths.Raw, "error", err)
		return errors.Join(cause, fmt.Errorf("failed to restore raw config: %w", err))
	}
	slog.Info("rolled back raw config", "path", c.Paths.Raw, "restored", hadRaw)
	return cause
}

// writeRaw stores a subscription body as-is; it is the provider's document,
// not ours to reformat.
func (c *ConfigMerger) writeRaw(body []byte) error {
	if err := yamldoc.WriteFile(c.Paths.Raw, body, 0o644); err != nil {
		return &yamldoc.WriteError{Path: c.Paths.Raw, Err: err}
	}
	return nil
}

func (c *ConfigMerger) saveURL(url string) error {
	if err := yamldoc.WriteFile(c.Paths.URL, []byte(url+"\n"), 0o644); err != nil {
		return &yamldoc.WriteError{Path: c.Paths.URL, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return yamldoc.WriteFile(dst, data, info.Mode().Perm())
}
