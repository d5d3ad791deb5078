package subconv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"git.sr.ht/~spc/go-ini"
	"golang.org/x/sys/unix"

	"github.com/clash-cli/clashctl/internal/fetch"
)

const (
	DefaultPort        = 25500
	DefaultTarget      = "clash"
	DefaultWarmUp      = 3 * time.Second
	DefaultGracePeriod = 5 * time.Second
	DefaultTimeout     = 30 * time.Second

	readyPollInterval = 100 * time.Millisecond
	dialTimeout       = 200 * time.Millisecond
)

var (
	// ErrNotInstalled is returned when the helper binary does not exist.
	ErrNotInstalled = errors.New("subconverter is not installed")
	// ErrExited is returned when the helper exits before it listens.
	ErrExited = errors.New("subconverter exited during start-up")
	// ErrNotReady is returned when the helper does not listen within the
	// warm-up period.
	ErrNotReady = errors.New("subconverter did not start listening in time")
)

// Helper converts subscriptions by running a local subconverter and
// asking it for a clash config. It implements merger.Converter.
type Helper struct {
	Binary string
	// Dir is the working directory of the helper and the location of its
	// pref.ini. Defaults to the directory of Binary.
	Dir string
	// Port is used when pref.ini does not name one. Defaults to DefaultPort.
	Port     int
	Template string // rule template passed as "config"; omitted when empty
	Target   string

	WarmUp      time.Duration
	GracePeriod time.Duration
	Timeout     time.Duration

	// Args and Env are passed to the helper in addition to the defaults.
	Args []string
	Env  []string

	UserAgent string
}

// Convert returns the clash config subconverter produces for subURL.
//
// A subconverter already listening on the port is used as is. Otherwise
// one is started for the duration of the call and terminated on return,
// whatever the outcome.
func (h *Helper) Convert(ctx context.Context, subURL string) ([]byte, error) {
	if _, err := os.Stat(h.Binary); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotInstalled
		}
		return nil, err
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(h.port()))
	if listening(ctx, addr) {
		slog.Info("using running subconverter", "addr", addr)
		return h.request(ctx, addr, subURL)
	}

	p, err := h.start()
	if err != nil {
		return nil, err
	}
	defer p.stop(durationOr(h.GracePeriod, DefaultGracePeriod))

	if err := p.waitReady(ctx, addr, durationOr(h.WarmUp, DefaultWarmUp)); err != nil {
		return nil, err
	}
	return h.request(ctx, addr, subURL)
}

func (h *Helper) dir() string {
	if h.Dir != "" {
		return h.Dir
	}
	return filepath.Dir(h.Binary)
}

// port is where the helper listens: pref.ini decides, since the binary
// reads it too.
func (h *Helper) port() int {
	if port, ok := prefPort(filepath.Join(h.dir(), "pref.ini")); ok {
		return port
	}
	if h.Port > 0 {
		return h.Port
	}
	return DefaultPort
}

// pref is the part of subconverter's pref.ini we care about.
type pref struct {
	Server struct {
		Port int `ini:"port"`
	} `ini:"server"`
}

func prefPort(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("cannot read subconverter preferences", "path", path, "error", err)
		}
		return 0, false
	}
	var p pref
	if err := ini.Unmarshal(data, &p); err != nil {
		slog.Warn("cannot parse subconverter preferences, using default port", "path", path, "error", err)
		return 0, false
	}
	if p.Server.Port <= 0 || p.Server.Port > 65535 {
		return 0, false
	}
	return p.Server.Port, true
}

func (h *Helper) request(ctx context.Context, addr, subURL string) ([]byte, error) {
	q := url.Values{}
	q.Set("target", h.target())
	q.Set("url", subURL)
	if h.Template != "" {
		q.Set("config", h.Template)
	}
	endpoint := (&url.URL{Scheme: "http", Host: addr, Path: "/sub", RawQuery: q.Encode()}).String()

	client := &fetch.Client{Timeout: durationOr(h.Timeout, DefaultTimeout), UserAgent: h.UserAgent}
	body, err := client.Fetch(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("subscription conversion failed: %w", err)
	}
	return body, nil
}

func (h *Helper) target() string {
	if h.Target != "" {
		return h.Target
	}
	return DefaultTarget
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // set before done is closed
}

func (h *Helper) start() (*process, error) {
	cmd := exec.Command(h.Binary, h.Args...)
	cmd.Dir = h.dir()
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	// Own session, so the whole group can be signalled on the way out.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start subconverter: %w", err)
	}
	slog.Debug("started subconverter", "pid", cmd.Process.Pid, "dir", cmd.Dir)

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) waitReady(ctx context.Context, addr string, warmUp time.Duration) error {
	readyCtx, cancel := context.WithTimeout(ctx, warmUp)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		if listening(readyCtx, addr) {
			return nil
		}
		select {
		case <-p.done:
			return fmt.Errorf("%w: %v", ErrExited, p.err)
		case <-readyCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s after %s", ErrNotReady, addr, warmUp)
		case <-ticker.C:
		}
	}
}

// stop sends SIGTERM to the process group and escalates to SIGKILL after
// grace. It returns once the process has been reaped.
func (p *process) stop(grace time.Duration) {
	pid := p.cmd.Process.Pid
	// kill(-1) and kill(0) would hit far more than the helper.
	if pid <= 1 {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		slog.Warn("failed to terminate subconverter", "pid", pid, "error", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		slog.Debug("subconverter stopped", "pid", pid)
		return
	case <-timer.C:
	}

	slog.Warn("subconverter ignored SIGTERM, killing it", "pid", pid, "grace", grace)
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		slog.Error("failed to kill subconverter", "pid", pid, "error", err)
		return
	}
	<-p.done
}

func listening(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
