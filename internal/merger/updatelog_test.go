package merger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestUpdateLogEntryString(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 30, 5, 0, time.Local)
	tests := []struct {
		name     string
		entry    UpdateLogEntry
		expected string
	}{
		{
			name:     "success",
			entry:    UpdateLogEntry{Time: ts, Success: true, URL: "https://a.example/sub"},
			expected: "[2024-03-01 08:30:05] 订阅更新成功: https://a.example/sub",
		},
		{
			name:     "failure",
			entry:    UpdateLogEntry{Time: ts, URL: "https://a.example/sub", Error: "timeout"},
			expected: "[2024-03-01 08:30:05] 订阅更新失败: https://a.example/sub - 错误: timeout",
		},
		{
			name:     "foreign line",
			entry:    UpdateLogEntry{Raw: "manual edit"},
			expected: "manual edit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseLogLine(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 30, 5, 0, time.Local)
	tests := []struct {
		name     string
		line     string
		expected UpdateLogEntry
	}{
		{
			name: "success",
			line: "[2024-03-01 08:30:05] 订阅更新成功: https://a.example/sub",
			expected: UpdateLogEntry{
				Time: ts, Success: true, URL: "https://a.example/sub",
				Raw: "[2024-03-01 08:30:05] 订阅更新成功: https://a.example/sub",
			},
		},
		{
			name: "failure with error text",
			line: "[2024-03-01 08:30:05] 订阅更新失败: https://a.example/sub - 错误: status 502 - bad gateway",
			expected: UpdateLogEntry{
				Time: ts, URL: "https://a.example/sub", Error: "status 502 - bad gateway",
				Raw: "[2024-03-01 08:30:05] 订阅更新失败: https://a.example/sub - 错误: status 502 - bad gateway",
			},
		},
		{
			name:     "unrecognized",
			line:     "something else",
			expected: UpdateLogEntry{Raw: "something else"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.expected, parseLogLine(tt.line)); diff != "" {
				t.Errorf("parseLogLine() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateLogMissing(t *testing.T) {
	c := newTestMerger(t)
	entries, err := c.UpdateLog(10)
	if err != nil {
		t.Fatalf("UpdateLog() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
}

func TestUpdateLogRecordsEveryAttempt(t *testing.T) {
	const attempts = 7
	bodies := map[string]string{}
	var urls []string
	for i := 0; i < attempts; i++ {
		url := fmt.Sprintf("https://sub.example.com/%d", i)
		urls = append(urls, url)
		// Every third subscription is unreachable.
		if i%3 != 2 {
			bodies[url] = validRaw
		}
	}
	c, _ := newSubscriptionMerger(t, bodies, nil)

	for _, url := range urls {
		_ = c.ApplySubscription(context.Background(), url)
	}

	entries, err := c.UpdateLog(attempts)
	if err != nil {
		t.Fatalf("UpdateLog() error: %v", err)
	}
	if len(entries) != attempts {
		t.Fatalf("expected %d entries, got %d", attempts, len(entries))
	}
	for i, entry := range entries {
		if entry.URL != urls[i] {
			t.Errorf("entry %d: URL = %q, want %q", i, entry.URL, urls[i])
		}
		if want := i%3 != 2; entry.Success != want {
			t.Errorf("entry %d: Success = %v, want %v", i, entry.Success, want)
		}
		if i > 0 && !entry.Time.After(entries[i-1].Time) {
			t.Errorf("entry %d is not after entry %d", i, i-1)
		}
	}

	tail, err := c.UpdateLog(2)
	if err != nil {
		t.Fatalf("UpdateLog(2) error: %v", err)
	}
	if diff := cmp.Diff(entries[attempts-2:], tail); diff != "" {
		t.Errorf("UpdateLog(2) mismatch (-want +got):\n%s", diff)
	}

	// Asking for more than exists returns everything.
	all, err := c.UpdateLog(100)
	if err != nil {
		t.Fatalf("UpdateLog(100) error: %v", err)
	}
	if len(all) != attempts {
		t.Errorf("UpdateLog(100) returned %d entries", len(all))
	}
}

func TestUpdateLogAppendsToExisting(t *testing.T) {
	c, _ := newSubscriptionMerger(t, map[string]string{subURL: validRaw}, nil)
	existing := "[2023-12-31 23:59:59] 订阅更新成功: https://old.example.com/sub\n"
	writeFile(t, c.Paths.UpdateLog, existing)

	if err := c.ApplySubscription(context.Background(), subURL); err != nil {
		t.Fatalf("ApplySubscription() error: %v", err)
	}

	data, err := os.ReadFile(c.Paths.UpdateLog)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.HasPrefix(string(data), existing) {
		t.Errorf("existing log content was not preserved:\n%s", data)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestAppendLogFlattensMultilineErrors(t *testing.T) {
	c := newTestMerger(t)
	c.Now = stepClock()
	c.appendLog(subURL, errors.New("first line\nsecond line\n\tthird"))

	entry := lastLogEntry(t, c)
	if entry.Error != "first line second line third" {
		t.Errorf("Error = %q", entry.Error)
	}
}

func TestUpdateLogNonPositive(t *testing.T) {
	c := newTestMerger(t)
	writeFile(t, c.Paths.UpdateLog, "[2023-12-31 23:59:59] 订阅更新成功: https://old.example.com/sub\n")
	entries, err := c.UpdateLog(0)
	if err != nil || entries != nil {
		t.Errorf("UpdateLog(0) = %v, %v", entries, err)
	}
}
