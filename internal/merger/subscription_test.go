package merger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clash-cli/clashctl/internal/fetch"
)

// fakeFetcher serves canned bodies by URL. URLs without a body fail with a
// network error.
type fakeFetcher struct {
	bodies map[string]string
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	body, ok := f.bodies[url]
	if !ok {
		return nil, &fetch.NetworkError{URL: url, Message: "request failed", Err: errors.New("connection refused")}
	}
	return []byte(body), nil
}

type fakeConverter struct {
	body  string
	err   error
	calls []string
}

func (f *fakeConverter) Convert(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

// stepClock returns a clock that advances by one second on each call.
func stepClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

const (
	subURL      = "https://sub.example.com/clash?token=abc"
	shareLinks  = "c3M6Ly9ZV1Z6TFRJMU5pMW5ZMjA2Y0dGemMzZHZjbVE9QGhrLmV4YW1wbGUuY29tOjgzODgjaGstMDE="
	otherRaw    = "proxies: []\nproxy-groups: []\nrules:\n  - MATCH,DIRECT\n"
	previousRaw = "proxies: []\nproxy-groups: []\nrules:\n  - MATCH,REJECT\n"
)

func newSubscriptionMerger(t *testing.T, bodies map[string]string, conv Converter) (*ConfigMerger, *fakeFetcher) {
	t.Helper()
	c := newTestMerger(t)
	f := &fakeFetcher{bodies: bodies}
	c.Fetcher = f
	c.Converter = conv
	c.Now = stepClock()
	return c, f
}

func lastLogEntry(t *testing.T, c *ConfigMerger) UpdateLogEntry {
	t.Helper()
	entries, err := c.UpdateLog(1)
	if err != nil {
		t.Fatalf("UpdateLog() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	return entries[0]
}

func TestApplySubscription(t *testing.T) {
	c, _ := newSubscriptionMerger(t, map[string]string{subURL: validRaw}, nil)

	if err := c.ApplySubscription(context.Background(), subURL); err != nil {
		t.Fatalf("ApplySubscription() error: %v", err)
	}
	if got := readFile(t, c.Paths.Raw); got != validRaw {
		t.Errorf("raw config was not stored verbatim:\n%s", got)
	}
	if url, ok := c.SubscriptionURL(); !ok || url != subURL {
		t.Errorf("SubscriptionURL() = %q, %v", url, ok)
	}
	if _, err := os.Stat(c.Paths.Backup); !os.IsNotExist(err) {
		t.Errorf("backup created without a previous raw config (stat err: %v)", err)
	}

	entry := lastLogEntry(t, c)
	if !entry.Success || entry.URL != subURL || entry.Error != "" {
		t.Errorf("unexpected log entry: %+v", entry)
	}
}

func TestApplySubscriptionBacksUpPreviousRaw(t *testing.T) {
	c, _ := newSubscriptionMerger(t, map[string]string{subURL: otherRaw}, nil)
	writeFile(t, c.Paths.Raw, validRaw)

	if err := c.ApplySubscription(context.Background(), subURL); err != nil {
		t.Fatalf("ApplySubscription() error: %v", err)
	}
	if got := readFile(t, c.Paths.Backup); got != validRaw {
		t.Errorf("backup does not hold the previous raw config:\n%s", got)
	}
	if got := readFile(t, c.Paths.Raw); got != otherRaw {
		t.Errorf("raw config = %q", got)
	}

	if err := c.RestoreBackup(); err != nil {
		t.Fatalf("RestoreBackup() error: %v", err)
	}
	if got := readFile(t, c.Paths.Raw); got != validRaw {
		t.Errorf("raw config after restore = %q", got)
	}
}

func TestApplySubscriptionNetworkFailure(t *testing.T) {
	c, _ := newSubscriptionMerger(t, nil, &fakeConverter{body: validRaw})
	writeFile(t, c.Paths.Raw, previousRaw)
	writeFile(t, c.Paths.URL, "https://old.example.com/sub\n")

	err := c.ApplySubscription(context.Background(), subURL)
	var ne *fetch.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected *fetch.NetworkError, got %T: %v", err, err)
	}
	if got := readFile(t, c.Paths.Raw); got != previousRaw {
		t.Errorf("raw config changed after a failed download: %q", got)
	}
	if url, _ := c.SubscriptionURL(); url != "https://old.example.com/sub" {
		t.Errorf("subscription URL changed to %q", url)
	}

	entry := lastLogEntry(t, c)
	if entry.Success || entry.URL != subURL || !strings.Contains(entry.Error, "connection refused") {
		t.Errorf("unexpected log entry: %+v", entry)
	}
}

func TestApplySubscriptionConversionFallback(t *testing.T) {
	conv := &fakeConverter{body: validRaw}
	c, _ := newSubscriptionMerger(t, map[string]string{subURL: shareLinks}, conv)

	if err := c.ApplySubscription(context.Background(), subURL); err != nil {
		t.Fatalf("ApplySubscription() error: %v", err)
	}
	if len(conv.calls) != 1 || conv.calls[0] != subURL {
		t.Errorf("converter calls = %v", conv.calls)
	}
	if got := readFile(t, c.Paths.Raw); got != validRaw {
		t.Errorf("raw config is not the converted document:\n%s", got)
	}
	if url, ok := c.SubscriptionURL(); !ok || url != subURL {
		t.Errorf("SubscriptionURL() = %q, %v", url, ok)
	}
	if entry := lastLogEntry(t, c); !entry.Success {
		t.Errorf("unexpected log entry: %+v", entry)
	}
}

func TestApplySubscriptionValidSkipsConversion(t *testing.T) {
	conv := &fakeConverter{body: otherRaw}
	c, _ := newSubscriptionMerger(t, map[string]string{subURL: validRaw}, conv)

	if err := c.ApplySubscription(context.Background(), subURL); err != nil {
		t.Fatalf("ApplySubscription() error: %v", err)
	}
	if len(conv.calls) != 0 {
		t.Errorf("converter called for a valid config: %v", conv.calls)
	}
}

func TestApplySubscriptionInvalidRollsBack(t *testing.T) {
	tests := []struct {
		name      string
		conv      Converter
		hadRaw    bool
		wantCause func(error) bool
	}{
		{
			name:   "no converter",
			hadRaw: true,
			wantCause: func(err error) bool {
				var ve *ValidationError
				return errors.As(err, &ve)
			},
		},
		{
			name:      "conversion fails",
			conv:      &fakeConverter{err: errors.New("subconverter exited")},
			hadRaw:    true,
			wantCause: func(err error) bool { return strings.Contains(err.Error(), "subconverter exited") },
		},
		{
			name:   "conversion yields invalid config",
			conv:   &fakeConverter{body: "proxies: []\nrules: []\n"},
			hadRaw: true,
			wantCause: func(err error) bool {
				var ve *ValidationError
				return errors.As(err, &ve)
			},
		},
		{
			name:   "no previous raw config",
			hadRaw: false,
			wantCause: func(err error) bool {
				var ve *ValidationError
				return errors.As(err, &ve)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newSubscriptionMerger(t, map[string]string{subURL: shareLinks}, tt.conv)
			if tt.hadRaw {
				writeFile(t, c.Paths.Raw, previousRaw)
			}

			err := c.ApplySubscription(context.Background(), subURL)
			var se *SubscriptionInvalidError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SubscriptionInvalidError, got %T: %v", err, err)
			}
			if se.URL != subURL {
				t.Errorf("error URL = %q", se.URL)
			}
			if !tt.wantCause(err) {
				t.Errorf("unexpected cause: %v", err)
			}

			if tt.hadRaw {
				if got := readFile(t, c.Paths.Raw); got != previousRaw {
					t.Errorf("raw config was not restored: %q", got)
				}
			} else if _, err := os.Stat(c.Paths.Raw); !os.IsNotExist(err) {
				t.Errorf("rejected subscription left a raw config behind (stat err: %v)", err)
			}
			if _, ok := c.SubscriptionURL(); ok {
				t.Error("subscription URL saved for a rejected subscription")
			}
			if entry := lastLogEntry(t, c); entry.Success {
				t.Errorf("unexpected log entry: %+v", entry)
			}
		})
	}
}

func TestApplySubscriptionLogFailureDoesNotMaskResult(t *testing.T) {
	c, _ := newSubscriptionMerger(t, map[string]string{subURL: validRaw}, nil)
	// A regular file where the log directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	writeFile(t, blocker, "")
	c.Paths.UpdateLog = filepath.Join(blocker, "update.log")

	if err := c.ApplySubscription(context.Background(), subURL); err != nil {
		t.Fatalf("ApplySubscription() error: %v", err)
	}
	if got := readFile(t, c.Paths.Raw); got != validRaw {
		t.Errorf("raw config = %q", got)
	}
}

func TestSync(t *testing.T) {
	c, f := newSubscriptionMerger(t, map[string]string{subURL: validRaw}, nil)

	if _, err := c.Sync(context.Background(), ""); !errors.Is(err, ErrNoSubscriptionURL) {
		t.Fatalf("expected ErrNoSubscriptionURL, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("fetched without a URL: %v", f.calls)
	}

	url, err := c.Sync(context.Background(), subURL)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if url != subURL {
		t.Errorf("Sync() url = %q", url)
	}
	if _, err := os.Stat(c.Paths.Runtime); err != nil {
		t.Fatalf("runtime config not generated: %v", err)
	}

	// A second sync reuses the stored URL.
	url, err = c.Sync(context.Background(), "")
	if err != nil {
		t.Fatalf("Sync() with stored URL error: %v", err)
	}
	if url != subURL || len(f.calls) != 2 || f.calls[1] != subURL {
		t.Errorf("Sync() url = %q, calls = %v", url, f.calls)
	}
}

func TestRestoreBackupWithoutBackup(t *testing.T) {
	c := newTestMerger(t)
	if err := c.RestoreBackup(); !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
}
