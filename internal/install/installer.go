package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/clash-cli/clashctl/internal/conf"
	"github.com/clash-cli/clashctl/internal/merger"
	"github.com/clash-cli/clashctl/internal/proxyenv"
	"github.com/clash-cli/clashctl/internal/service"
)

// ErrAlreadyInstalled is returned by Install when a kernel binary exists
// and Force is not set.
var ErrAlreadyInstalled = errors.New("already installed")

// Downloader streams a release artifact.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Service is the part of the service controller the installer drives.
type Service interface {
	Install(ctx context.Context, spec service.UnitSpec) error
	Uninstall(ctx context.Context) error
	Enable(ctx context.Context) error
	Installed() bool
}

// Installer lays out the installation directory, fetches the kernel and
// the conversion helper, and registers the service.
type Installer struct {
	Config     conf.Config
	Downloader Downloader
	Service    Service
	Merger     *merger.ConfigMerger
	// Arch defaults to the architecture of the running kernel.
	Arch string
	// Step, if set, is told about each step before it starts.
	Step func(description string)

	// Home is where the shell integration goes; none is set up when empty.
	Home  string
	Shell proxyenv.Shell
	// Program is how the shell integration invokes this tool.
	Program string
}

type Options struct {
	// Kernel is "mihomo" or "clash"; defaults to the configured kernel.
	Kernel          string
	SubscriptionURL string
	Force           bool
}

func (i *Installer) step(description string) {
	slog.Info(description)
	if i.Step != nil {
		i.Step(description)
	}
}

func (i *Installer) program() string {
	if i.Program != "" {
		return i.Program
	}
	return "clashctl"
}

func (i *Installer) arch() (string, error) {
	if i.Arch != "" {
		return NormalizeArch(i.Arch)
	}
	return Arch()
}

// Installed reports whether a kernel binary is present.
func (i *Installer) Installed() bool {
	for _, kernel := range []string{"mihomo", "clash"} {
		if fileExists(filepath.Join(i.Config.BinDir(), kernel)) {
			return true
		}
	}
	return false
}

// Install performs a complete installation. A failed subscription does
// not undo the rest; the error is returned once the service is registered
// so the subscription can be retried on its own.
func (i *Installer) Install(ctx context.Context, opts Options) error {
	kernel := opts.Kernel
	if kernel == "" {
		kernel = i.Config.Kernel
	}
	if i.Installed() && !opts.Force {
		return ErrAlreadyInstalled
	}
	arch, err := i.arch()
	if err != nil {
		return err
	}
	kernelURL, err := KernelURL(kernel, arch)
	if err != nil {
		return err
	}

	i.step("Creating directories")
	for _, dir := range []string{i.Config.BaseDir, i.Config.BinDir(), i.Config.ConfigDir(), i.Config.LogDir(), i.Config.SubconverterDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}

	i.step(fmt.Sprintf("Installing %s kernel", kernel))
	kernelPath := filepath.Join(i.Config.BinDir(), kernel)
	if err := i.fetch(ctx, kernelURL, func(r io.Reader) error { return ExtractGzip(r, kernelPath) }); err != nil {
		return fmt.Errorf("cannot install %s: %w", kernel, err)
	}

	// Conversion is a fallback; an installation without it still works
	// for subscriptions that serve clash configs.
	i.step("Installing subconverter")
	if u, err := SubconverterURL(arch); err != nil {
		slog.Warn("skipping subconverter", "error", err)
	} else if err := i.fetch(ctx, u, func(r io.Reader) error { return ExtractTarGz(r, i.Config.SubconverterDir(), 1) }); err != nil {
		slog.Warn("cannot install subconverter, subscription conversion will be unavailable", "error", err)
	}

	// The kernel downloads it on first start if this fails.
	i.step("Downloading GeoIP database")
	geoip := filepath.Join(i.Config.BaseDir, "Country.mmdb")
	if err := i.fetch(ctx, GeoIPURL, func(r io.Reader) error { return writeAtomic(geoip, r, 0o644) }); err != nil {
		slog.Warn("cannot download GeoIP database", "error", err)
	}

	i.step("Initializing configuration")
	if _, err := i.Merger.InitMixin(); err != nil {
		return err
	}

	i.step("Registering service")
	spec := service.UnitSpec{Kernel: kernelPath, BaseDir: i.Config.BaseDir, Config: i.Merger.Paths.Runtime}
	if err := i.Service.Install(ctx, spec); err != nil {
		return err
	}
	if err := i.Service.Enable(ctx); err != nil {
		return err
	}

	if i.Home != "" {
		i.step("Setting up shell integration")
		if _, _, err := proxyenv.InstallIntegration(i.Home, i.Shell, i.program()); err != nil {
			slog.Warn("cannot set up shell integration", "error", err)
		}
	}

	if opts.SubscriptionURL != "" {
		i.step("Applying subscription")
		if _, err := i.Merger.Sync(ctx, opts.SubscriptionURL); err != nil {
			return fmt.Errorf("installed, but the subscription could not be applied: %w", err)
		}
		return nil
	}
	if fileExists(i.Merger.Paths.Raw) {
		i.step("Generating runtime configuration")
		return i.Merger.Merge()
	}
	return nil
}

// fetch downloads url to a temporary file and hands it to extract.
func (i *Installer) fetch(ctx context.Context, url string, extract func(io.Reader) error) error {
	f, err := os.CreateTemp(i.Config.BinDir(), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	n, err := i.Downloader.Download(ctx, url, f)
	if err != nil {
		return err
	}
	slog.Debug("downloaded artifact", "url", url, "bytes", n)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return extract(f)
}

// Uninstall removes the service and the installation directory.
func (i *Installer) Uninstall(ctx context.Context) error {
	if err := i.Service.Uninstall(ctx); err != nil {
		return err
	}
	if i.Home != "" {
		if _, err := proxyenv.RemoveIntegration(i.Home); err != nil {
			slog.Warn("cannot remove shell integration", "error", err)
		}
	}
	base := filepath.Clean(i.Config.BaseDir)
	if base == "/" || base == "." || !filepath.IsAbs(base) {
		return fmt.Errorf("refusing to remove base directory %q", i.Config.BaseDir)
	}
	if err := os.RemoveAll(base); err != nil {
		return fmt.Errorf("cannot remove %s: %w", base, err)
	}
	slog.Info("removed installation", "path", base)
	return nil
}

// Info summarizes an installation.
type Info struct {
	Installed          bool
	Arch               string
	BaseDir            string
	BinDir             string
	ConfigDir          string
	LogDir             string
	Kernel             string
	MihomoExists       bool
	ClashExists        bool
	SubconverterExists bool
	ServiceInstalled   bool
}

func (i *Installer) Info() Info {
	arch, err := i.arch()
	if err != nil {
		arch = "unsupported"
	}
	return Info{
		Installed:          i.Installed(),
		Arch:               arch,
		BaseDir:            i.Config.BaseDir,
		BinDir:             i.Config.BinDir(),
		ConfigDir:          i.Config.ConfigDir(),
		LogDir:             i.Config.LogDir(),
		Kernel:             i.Config.Kernel,
		MihomoExists:       fileExists(filepath.Join(i.Config.BinDir(), "mihomo")),
		ClashExists:        fileExists(filepath.Join(i.Config.BinDir(), "clash")),
		SubconverterExists: fileExists(filepath.Join(i.Config.SubconverterDir(), "subconverter")),
		ServiceInstalled:   i.Service.Installed(),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
