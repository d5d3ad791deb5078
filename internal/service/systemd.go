package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = time.Second
)

var (
	// ErrNotInstalled is returned when the unit file does not exist.
	ErrNotInstalled = errors.New("service is not installed")
	// ErrNotRunning is returned by Reload when there is nothing to reload.
	ErrNotRunning = errors.New("service is not running")
	// ErrTimeout is returned when the unit does not reach the expected state
	// in time.
	ErrTimeout = errors.New("timed out waiting for service")
	// ErrUnitFailed is returned when the unit enters the failed state or its
	// job does not complete.
	ErrUnitFailed = errors.New("service failed")
)

// conn is the part of the systemd D-Bus API used here. *sdbus.Conn
// implements it.
type conn interface {
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	ReloadUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	ReloadContext(ctx context.Context) error
	GetUnitPropertyContext(ctx context.Context, unit, propertyName string) (*sdbus.Property, error)
	GetServicePropertyContext(ctx context.Context, service, propertyName string) (*sdbus.Property, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []sdbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sdbus.DisableUnitFileChange, error)
	Close()
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// Systemd controls the proxy kernel as a systemd service.
type Systemd struct {
	// Unit is the unit name; ".service" is appended when there is no suffix.
	Unit     string
	UnitPath string

	Timeout      time.Duration
	PollInterval time.Duration

	// Journalctl defaults to "journalctl" from PATH.
	Journalctl string

	dial func(ctx context.Context) (conn, error)
}

func NewSystemd(unit, unitPath string, timeout time.Duration) *Systemd {
	return &Systemd{Unit: unit, UnitPath: unitPath, Timeout: timeout}
}

func (s *Systemd) unitName() string {
	if strings.Contains(s.Unit, ".") {
		return s.Unit
	}
	return s.Unit + ".service"
}

func (s *Systemd) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func (s *Systemd) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

func (s *Systemd) connect(ctx context.Context) (conn, error) {
	if s.dial != nil {
		c, err := s.dial(ctx)
		return c, dbusError(err)
	}
	c, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to systemd: %w", dbusError(err))
	}
	return c, nil
}

// withConn runs fn with a fresh connection to systemd. D-Bus permission
// errors come back wrapping fs.ErrPermission.
func (s *Systemd) withConn(ctx context.Context, fn func(c conn) error) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return dbusError(fn(c))
}

// Installed reports whether the unit file exists.
func (s *Systemd) Installed() bool {
	_, err := os.Stat(s.UnitPath)
	return err == nil
}

func (s *Systemd) requireInstalled() error {
	if !s.Installed() {
		return ErrNotInstalled
	}
	return nil
}

// Start starts the service unless it is already running and waits until
// systemd reports it active.
func (s *Systemd) Start(ctx context.Context) error {
	if err := s.requireInstalled(); err != nil {
		return err
	}
	return s.withConn(ctx, func(c conn) error {
		state, err := s.activeState(ctx, c)
		if err != nil {
			return err
		}
		if state == "active" {
			slog.Debug("service already running", "unit", s.unitName())
			return nil
		}
		if err := s.runJob(ctx, "start", c.StartUnitContext); err != nil {
			return err
		}
		return s.waitState(ctx, c, isActive)
	})
}

// Stop stops the service unless it is already stopped.
func (s *Systemd) Stop(ctx context.Context) error {
	if err := s.requireInstalled(); err != nil {
		return err
	}
	return s.withConn(ctx, func(c conn) error {
		state, err := s.activeState(ctx, c)
		if err != nil {
			return err
		}
		if isStopped(state) {
			slog.Debug("service already stopped", "unit", s.unitName(), "state", state)
			return nil
		}
		if err := s.runJob(ctx, "stop", c.StopUnitContext); err != nil {
			return err
		}
		return s.waitState(ctx, c, isStopped)
	})
}

// Restart restarts the service, starting it if it was stopped.
func (s *Systemd) Restart(ctx context.Context) error {
	if err := s.requireInstalled(); err != nil {
		return err
	}
	return s.withConn(ctx, func(c conn) error {
		if err := s.runJob(ctx, "restart", c.RestartUnitContext); err != nil {
			return err
		}
		return s.waitState(ctx, c, isActive)
	})
}

// Reload asks the running service to reread its config and restarts it if
// that fails.
func (s *Systemd) Reload(ctx context.Context) error {
	if err := s.requireInstalled(); err != nil {
		return err
	}
	err := s.withConn(ctx, func(c conn) error {
		state, err := s.activeState(ctx, c)
		if err != nil {
			return err
		}
		if !isActive(state) {
			return ErrNotRunning
		}
		return s.runJob(ctx, "reload", c.ReloadUnitContext)
	})
	if err == nil || errors.Is(err, ErrNotRunning) || errors.Is(err, fs.ErrPermission) {
		return err
	}
	slog.Warn("reload failed, restarting service", "unit", s.unitName(), "error", err)
	return s.Restart(ctx)
}

func (s *Systemd) Enable(ctx context.Context) error {
	if err := s.requireInstalled(); err != nil {
		return err
	}
	return s.withConn(ctx, func(c conn) error {
		_, changes, err := c.EnableUnitFilesContext(ctx, []string{s.unitName()}, false, true)
		if err != nil {
			return fmt.Errorf("cannot enable %s: %w", s.unitName(), err)
		}
		for _, ch := range changes {
			slog.Debug("unit file changed", "type", ch.Type, "filename", ch.Filename, "destination", ch.Destination)
		}
		return nil
	})
}

func (s *Systemd) Disable(ctx context.Context) error {
	if err := s.requireInstalled(); err != nil {
		return err
	}
	return s.withConn(ctx, func(c conn) error {
		if _, err := c.DisableUnitFilesContext(ctx, []string{s.unitName()}, false); err != nil {
			return fmt.Errorf("cannot disable %s: %w", s.unitName(), err)
		}
		return nil
	})
}

// IsRunning reports whether the unit is active. A missing unit is not
// running.
func (s *Systemd) IsRunning(ctx context.Context) (bool, error) {
	if !s.Installed() {
		return false, nil
	}
	var running bool
	err := s.withConn(ctx, func(c conn) error {
		state, err := s.activeState(ctx, c)
		running = isActive(state)
		return err
	})
	return running, err
}

func (s *Systemd) IsEnabled(ctx context.Context) (bool, error) {
	if !s.Installed() {
		return false, nil
	}
	var enabled bool
	err := s.withConn(ctx, func(c conn) error {
		state, err := s.unitProperty(ctx, c, "UnitFileState")
		enabled = state == "enabled"
		return err
	})
	return enabled, err
}

// Status describes the service as systemd sees it.
type Status struct {
	Installed   bool
	Running     bool
	Enabled     bool
	ActiveState string
	SubState    string
	MainPID     uint32
	// Since is when the unit last became active; zero if it never did.
	Since time.Time
}

func (s *Systemd) Status(ctx context.Context) (Status, error) {
	st := Status{Installed: s.Installed()}
	if !st.Installed {
		return st, nil
	}
	err := s.withConn(ctx, func(c conn) error {
		var err error
		if st.ActiveState, err = s.unitProperty(ctx, c, "ActiveState"); err != nil {
			return err
		}
		if st.SubState, err = s.unitProperty(ctx, c, "SubState"); err != nil {
			return err
		}
		fileState, err := s.unitProperty(ctx, c, "UnitFileState")
		if err != nil {
			return err
		}
		st.Running = isActive(st.ActiveState)
		st.Enabled = fileState == "enabled"

		if p, err := c.GetUnitPropertyContext(ctx, s.unitName(), "ActiveEnterTimestamp"); err == nil {
			if usec, ok := p.Value.Value().(uint64); ok && usec > 0 {
				st.Since = time.UnixMicro(int64(usec))
			}
		}
		if p, err := c.GetServicePropertyContext(ctx, s.unitName(), "MainPID"); err == nil {
			st.MainPID, _ = p.Value.Value().(uint32)
		}
		return nil
	})
	return st, err
}

func (s *Systemd) activeState(ctx context.Context, c conn) (string, error) {
	return s.unitProperty(ctx, c, "ActiveState")
}

func (s *Systemd) unitProperty(ctx context.Context, c conn, name string) (string, error) {
	p, err := c.GetUnitPropertyContext(ctx, s.unitName(), name)
	if err != nil {
		return "", fmt.Errorf("cannot read %s of %s: %w", name, s.unitName(), err)
	}
	value, ok := p.Value.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s of %s: %v", name, s.unitName(), p.Value)
	}
	return value, nil
}

// runJob queues a job and waits for systemd to report its result.
func (s *Systemd) runJob(ctx context.Context, verb string, job jobFunc) error {
	ch := make(chan string, 1)
	if _, err := job(ctx, s.unitName(), "replace", ch); err != nil {
		return fmt.Errorf("cannot %s %s: %w", verb, s.unitName(), err)
	}
	slog.Debug("queued job", "unit", s.unitName(), "job", verb)

	timer := time.NewTimer(s.timeout())
	defer timer.Stop()
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("%w: %s job for %s finished with result %q", ErrUnitFailed, verb, s.unitName(), result)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s job for %s did not finish within %s", ErrTimeout, verb, s.unitName(), s.timeout())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitState polls ActiveState until want accepts it.
func (s *Systemd) waitState(ctx context.Context, c conn, want func(string) bool) error {
	deadline := time.Now().Add(s.timeout())
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	var state string
	for {
		var err error
		state, err = s.activeState(ctx, c)
		if err != nil {
			return err
		}
		if want(state) {
			return nil
		}
		if state == "failed" {
			return fmt.Errorf("%w: %s entered the failed state", ErrUnitFailed, s.unitName())
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s is %s after %s", ErrTimeout, s.unitName(), state, s.timeout())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func isActive(state string) bool { return state == "active" || state == "reloading" }

func isStopped(state string) bool { return state == "inactive" || state == "failed" }

// dbusError maps polkit and bus policy denials to fs.ErrPermission so
// callers can treat them like any other permission problem.
func dbusError(err error) error {
	if err == nil {
		return nil
	}
	var name string
	var de dbus.Error
	var dep *dbus.Error
	switch {
	case errors.As(err, &de):
		name = de.Name
	case errors.As(err, &dep):
		name = dep.Name
	}
	switch name {
	case "org.freedesktop.DBus.Error.AccessDenied",
		"org.freedesktop.DBus.Error.InteractiveAuthorizationRequired":
		if errors.Is(err, fs.ErrPermission) {
			return err
		}
		return fmt.Errorf("%w: %w", fs.ErrPermission, err)
	}
	return err
}
