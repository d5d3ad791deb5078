package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"

	"github.com/clash-cli/clashctl/internal/fetch"
	"github.com/clash-cli/clashctl/internal/install"
	"github.com/clash-cli/clashctl/internal/l10n"
	"github.com/clash-cli/clashctl/internal/merger"
	"github.com/clash-cli/clashctl/internal/proxyenv"
	"github.com/clash-cli/clashctl/internal/service"
	"github.com/clash-cli/clashctl/internal/subconv"
	"github.com/clash-cli/clashctl/internal/yamldoc"
)

var errNotRoot = fmt.Errorf("%w: %s", fs.ErrPermission, "this command must be run as root")

// geteuid is replaced in tests.
var geteuid = os.Geteuid

func requireRoot() error {
	if geteuid() != 0 {
		return errNotRoot
	}
	return nil
}

func newFetcher() *fetch.Client {
	return &fetch.Client{Timeout: config.RequestTimeout, UserAgent: config.UserAgent}
}

func newMerger() *merger.ConfigMerger {
	return &merger.ConfigMerger{
		Paths:   merger.DefaultPaths(config.ConfigDir(), config.LogDir()),
		Fetcher: newFetcher(),
		Converter: &subconv.Helper{
			Binary:    filepath.Join(config.SubconverterDir(), "subconverter"),
			Port:      config.SubconverterPort,
			Template:  config.SubconverterTemplate,
			Timeout:   config.DownloadTimeout,
			UserAgent: config.UserAgent,
		},
	}
}

func newService() *service.Systemd {
	return service.NewSystemd(config.ServiceName, config.UnitPath, config.ServiceTimeout)
}

func newInstaller() *install.Installer {
	return &install.Installer{
		Config:     config,
		Downloader: &fetch.Client{Timeout: config.DownloadTimeout, UserAgent: config.UserAgent},
		Service:    newService(),
		Merger:     newMerger(),
		Home:       invokingHome(),
		Shell:      proxyenv.ShellFromEnv(os.Getenv("SHELL")),
		Program:    filepath.Base(os.Args[0]),
	}
}

// invokingHome is the home of the user behind sudo, or of the current
// user.
func invokingHome() string {
	if name := os.Getenv("SUDO_USER"); name != "" && name != "root" {
		if u, err := user.Lookup(name); err == nil {
			return u.HomeDir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("cannot find home directory, skipping shell integration", "error", err)
		return ""
	}
	return home
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newSpinner returns a started spinner on terminals and nil otherwise.
func newSpinner(message string) *spinner.Spinner {
	if !isTerminal(os.Stdout) {
		return nil
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	return s
}

func setSpinnerMessage(s *spinner.Spinner, message string) {
	if s == nil {
		return
	}
	s.Lock()
	s.Suffix = " " + message
	s.Unlock()
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}

// withSpinner runs fn while showing message.
func withSpinner(message string, fn func() error) error {
	s := newSpinner(message)
	err := fn()
	stopSpinner(s)
	return err
}

// confirm asks a yes/no question. Without a terminal the answer is no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// mergeAndRestart rebuilds the runtime config and restarts the service if
// it is running so the kernel picks the change up.
func mergeAndRestart(ctx context.Context, m *merger.ConfigMerger, svc *service.Systemd) error {
	if err := m.Merge(); err != nil {
		return err
	}
	return restartIfRunning(ctx, svc)
}

func restartIfRunning(ctx context.Context, svc *service.Systemd) error {
	running, err := svc.IsRunning(ctx)
	if err != nil {
		slog.Warn("cannot tell whether the service is running", "error", err)
		return nil
	}
	if !running {
		return nil
	}
	return withSpinner(l10n.T("Restarting service"), func() error {
		return svc.Restart(ctx)
	})
}

// applyMixin merges patch into the mixin and then follows mergeAndRestart.
// Without a raw config the mixin change is kept for the next merge.
func applyMixin(ctx context.Context, patch *yamldoc.Mapping) error {
	m := newMerger()
	if err := m.UpdateMixin(patch); err != nil {
		return err
	}
	err := mergeAndRestart(ctx, m, newService())
	if errors.Is(err, merger.ErrRawConfigMissing) {
		fmt.Println(l10n.T("Mixin updated. It takes effect once a subscription is applied."))
		return nil
	}
	return err
}

// loadRuntime returns the runtime config, or an empty document when there
// is none yet.
func loadRuntime() *yamldoc.Mapping {
	runtime, err := newMerger().Runtime()
	if err != nil {
		slog.Warn("cannot read runtime config", "error", err)
		return yamldoc.NewMapping()
	}
	return runtime
}
