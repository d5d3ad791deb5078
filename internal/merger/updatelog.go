package merger

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const logTimeLayout = "2006-01-02 15:04:05"

// UpdateLogEntry is one line of the subscription update log.
type UpdateLogEntry struct {
	Time    time.Time
	Success bool
	URL     string
	Error   string
	// Raw is the line as stored. Lines written by other tools that do not
	// follow the format only have Raw set.
	Raw string
}

// String renders the entry in the on-disk format:
//
//	[2006-01-02 15:04:05] 订阅更新成功: <url>
//	[2006-01-02 15:04:05] 订阅更新失败: <url> - 错误: <text>
func (e UpdateLogEntry) String() string {
	if e.Time.IsZero() && e.Raw != "" {
		return e.Raw
	}
	status := "成功"
	if !e.Success {
		status = "失败"
	}
	line := fmt.Sprintf("[%s] 订阅更新%s: %s", e.Time.Format(logTimeLayout), status, e.URL)
	if !e.Success && e.Error != "" {
		line += " - 错误: " + e.Error
	}
	return line
}

var logLineRE = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] 订阅更新(成功|失败): (.*?)(?: - 错误: (.*))?$`)

func parseLogLine(line string) UpdateLogEntry {
	entry := UpdateLogEntry{Raw: line}
	m := logLineRE.FindStringSubmatch(line)
	if m == nil {
		return entry
	}
	ts, err := time.ParseInLocation(logTimeLayout, m[1], time.Local)
	if err != nil {
		return entry
	}
	entry.Time = ts
	entry.Success = m[2] == "成功"
	entry.URL = m[3]
	entry.Error = m[4]
	return entry
}

// appendLog records the outcome of a subscription update. Failing to write
// the log never changes the outcome being recorded, so errors are only
// logged.
func (c *ConfigMerger) appendLog(url string, opErr error) {
	entry := UpdateLogEntry{
		Time:    c.now().Truncate(time.Second),
		Success: opErr == nil,
		URL:     url,
	}
	if opErr != nil {
		// One entry per line, whatever the error text contains.
		entry.Error = strings.Join(strings.Fields(opErr.Error()), " ")
	}
	if err := appendLine(c.Paths.UpdateLog, entry.String()); err != nil {
		slog.Warn("failed to append update log", "path", c.Paths.UpdateLog, "error", err)
	}
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// UpdateLog returns the last n entries of the update log, oldest first.
// A missing log yields no entries and no error.
func (c *ConfigMerger) UpdateLog(n int) ([]UpdateLogEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(c.Paths.UpdateLog)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read update log: %w", err)
	}
	defer f.Close()

	// Keep a sliding window of the last n lines.
	window := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(window) == n {
			copy(window, window[1:])
			window = window[:n-1]
		}
		window = append(window, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read update log: %w", err)
	}

	entries := make([]UpdateLogEntry, 0, len(window))
	for _, line := range window {
		entries = append(entries, parseLogLine(line))
	}
	return entries, nil
}
