package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/clash-cli/clashctl/internal/conf"
	"github.com/clash-cli/clashctl/internal/fetch"
	"github.com/clash-cli/clashctl/internal/l10n"
	"github.com/clash-cli/clashctl/internal/merger"
	"github.com/clash-cli/clashctl/internal/service"
)

// Version is set at build time.
var Version = "1.0.0"

// Exit codes follow sysexits(3) where one fits.
const (
	exitOK         = 0
	exitFailure    = 1
	exitTransient  = 75 // EX_TEMPFAIL: retrying later may work
	exitPermission = 77 // EX_NOPERM
)

// config is the resolved configuration, set up before any command runs.
var config = conf.Configuration

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, l10n.T("error: %v", err))
		if hint := describe(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = Version
	app.Usage = l10n.T("manage a clash/mihomo proxy kernel, its subscription and its service")
	app.HideHelpCommand = true
	app.EnableBashCompletion = true

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   l10n.T("read configuration from `FILE`"),
			Value:   conf.DefaultPath,
			EnvVars: []string{"CLASHCTL_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   l10n.T("set log verbosity to `LEVEL` (debug, info, warn, error)"),
			EnvVars: []string{"CLASHCTL_LOG_LEVEL"},
		},
	}
	app.Before = beforeAction
	app.Commands = commands()
	return app
}

// beforeAction resolves the configuration and sets up logging.
func beforeAction(c *cli.Context) error {
	if path := c.String("config"); path != conf.DefaultPath {
		source := &conf.ConfigSource{Path: path, DropInDir: path + ".d/"}
		cfg, err := source.Read()
		if err != nil {
			return err
		}
		config = cfg
	}

	level := config.LogLevel
	if name := c.String("log-level"); name != "" {
		parsed, ok := conf.ParseLevel(name)
		if !ok {
			return errors.New(l10n.T("unknown log level %q", name))
		}
		level = parsed
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Debug("configuration resolved", "base-dir", config.BaseDir, "kernel", config.Kernel)
	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		invalid *merger.SubscriptionInvalidError
		network *fetch.NetworkError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, fs.ErrPermission):
		return exitPermission
	case errors.As(err, &invalid):
		return exitFailure
	case errors.As(err, &network), errors.Is(err, service.ErrTimeout):
		return exitTransient
	default:
		return exitFailure
	}
}

// describe returns advice for errors the operator can act on.
func describe(err error) string {
	var invalid *merger.SubscriptionInvalidError
	switch {
	case errors.Is(err, merger.ErrRawConfigMissing):
		return l10n.T("No subscription has been applied yet. Run 'update <url>' first.")
	case errors.Is(err, merger.ErrNoSubscriptionURL):
		return l10n.T("No subscription URL is stored. Pass one to 'update'.")
	case errors.Is(err, merger.ErrNoBackup):
		return l10n.T("Nothing to roll back to: no subscription has replaced the current config yet.")
	case errors.Is(err, service.ErrNotInstalled):
		return l10n.T("The service is not installed. Run 'install' first.")
	case errors.As(err, &invalid):
		return l10n.T("The previous configuration has been kept.")
	case errors.Is(err, fs.ErrPermission):
		return l10n.T("Run the command again as root.")
	}
	return ""
}
