package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/coreos/go-systemd/v22/unit"
)

// UnitSpec describes the service that runs the proxy kernel.
type UnitSpec struct {
	Description string
	// Kernel is the path of the mihomo or clash binary.
	Kernel  string
	BaseDir string
	// Config is the runtime config passed to the kernel.
	Config string
}

// Options renders u as unit file options.
func (u UnitSpec) Options() []*unit.UnitOption {
	description := u.Description
	if description == "" {
		description = fmt.Sprintf("%s Daemon, A[nother] Clash Kernel.", filepath.Base(u.Kernel))
	}
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", description),
		unit.NewUnitOption("Unit", "After", "network.target"),
		unit.NewUnitOption("Service", "Type", "simple"),
		unit.NewUnitOption("Service", "Restart", "always"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Service", "User", "root"),
		unit.NewUnitOption("Service", "ExecStart", fmt.Sprintf("%s -d %s -f %s", u.Kernel, u.BaseDir, u.Config)),
		unit.NewUnitOption("Service", "ExecReload", "/bin/kill -HUP $MAINPID"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
}

// Install writes the unit file and makes systemd pick it up. An existing
// unit file is replaced.
func (s *Systemd) Install(ctx context.Context, spec UnitSpec) error {
	data, err := io.ReadAll(unit.Serialize(spec.Options()))
	if err != nil {
		return fmt.Errorf("cannot render unit file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.UnitPath), 0o755); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}
	if err := os.WriteFile(s.UnitPath, data, 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}
	slog.Info("installed unit file", "path", s.UnitPath)

	return s.withConn(ctx, func(c conn) error {
		return c.ReloadContext(ctx)
	})
}

// Uninstall stops and disables the service and removes its unit file.
// Uninstalling a service that is not installed does nothing.
func (s *Systemd) Uninstall(ctx context.Context) error {
	if !s.Installed() {
		return nil
	}
	if err := s.Stop(ctx); err != nil {
		return err
	}
	if err := s.Disable(ctx); err != nil {
		return err
	}
	if err := os.Remove(s.UnitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}
	slog.Info("removed unit file", "path", s.UnitPath)

	return s.withConn(ctx, func(c conn) error {
		return c.ReloadContext(ctx)
	})
}

// Logs copies the service journal to w. With follow set it keeps copying
// until ctx is cancelled.
func (s *Systemd) Logs(ctx context.Context, lines int, follow bool, w io.Writer) error {
	journalctl := s.Journalctl
	if journalctl == "" {
		journalctl = "journalctl"
	}
	args := []string{"-u", s.unitName(), "--no-pager"}
	if lines > 0 {
		args = append(args, "-n", strconv.Itoa(lines))
	}
	if follow {
		args = append(args, "-f")
	}

	cmd := exec.CommandContext(ctx, journalctl, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		// Interrupting a follow is the normal way to end it.
		if follow && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("cannot read service logs: %w", err)
	}
	return nil
}
