package main

import (
	"github.com/urfave/cli/v2"

	"github.com/clash-cli/clashctl/internal/l10n"
)

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "install",
			Usage: l10n.T("Install the proxy kernel and register its service"),
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "kernel",
					Usage: l10n.T("install `KERNEL` (mihomo or clash)"),
				},
				&cli.StringFlag{
					Name:    "url",
					Aliases: []string{"u"},
					Usage:   l10n.T("apply the subscription at `URL`"),
				},
				&cli.BoolFlag{
					Name:  "force",
					Usage: l10n.T("reinstall over an existing installation"),
				},
			},
			Action: installAction,
		},
		{
			Name:  "uninstall",
			Usage: l10n.T("Remove the service and everything under the base directory"),
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "yes",
					Aliases: []string{"y"},
					Usage:   l10n.T("do not ask for confirmation"),
				},
			},
			Action: uninstallAction,
		},
		{
			Name:   "on",
			Usage:  l10n.T("Start the proxy service"),
			Action: onAction,
		},
		{
			Name:   "off",
			Usage:  l10n.T("Stop the proxy service"),
			Action: offAction,
		},
		{
			Name:   "restart",
			Usage:  l10n.T("Restart the proxy service"),
			Action: restartAction,
		},
		{
			Name:  "status",
			Usage: l10n.T("Show the service state and its recent log"),
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "lines",
					Aliases: []string{"n"},
					Value:   20,
					Usage:   l10n.T("show the last `N` log lines"),
				},
				&cli.BoolFlag{
					Name:    "follow",
					Aliases: []string{"f"},
					Usage:   l10n.T("keep printing new log lines"),
				},
			},
			Action: statusAction,
		},
		{
			Name:  "proxy",
			Usage: l10n.T("Show whether this shell uses the proxy, or print commands that change that"),
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "shell",
					Usage:   l10n.T("write commands for `SHELL` (bash, zsh or fish)"),
					EnvVars: []string{"SHELL"},
				},
				&cli.BoolFlag{
					Name:  "test",
					Usage: l10n.T("also fetch a page through the proxy"),
				},
			},
			Subcommands: []*cli.Command{
				{
					Name:   "env",
					Usage:  l10n.T("Print commands that export the proxy variables"),
					Action: proxyEnvAction,
				},
				{
					Name:   "unset",
					Usage:  l10n.T("Print commands that clear the proxy variables"),
					Action: proxyUnsetAction,
				},
			},
			Action: proxyStatusAction,
		},
		{
			Name:   "ui",
			Usage:  l10n.T("Show the web dashboard addresses"),
			Action: uiAction,
		},
		{
			Name:      "secret",
			Usage:     l10n.T("Show or set the dashboard secret"),
			ArgsUsage: "[SECRET]",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "generate",
					Usage: l10n.T("set a random secret"),
				},
			},
			Action: secretAction,
		},
		{
			Name:      "tun",
			Usage:     l10n.T("Show or switch TUN mode"),
			ArgsUsage: "[on|off]",
			Action:    tunAction,
		},
		{
			Name:      "update",
			Usage:     l10n.T("Apply a subscription (the stored one if URL is omitted)"),
			ArgsUsage: "[URL]",
			Subcommands: []*cli.Command{
				{
					Name:      "sync",
					Usage:     l10n.T("Apply a subscription"),
					ArgsUsage: "[URL]",
					Action:    updateSyncAction,
				},
				{
					Name:  "log",
					Usage: l10n.T("Show the subscription update log"),
					Flags: []cli.Flag{
						&cli.IntFlag{
							Name:    "lines",
							Aliases: []string{"n"},
							Value:   10,
							Usage:   l10n.T("show the last `N` entries"),
						},
					},
					Action: updateLogAction,
				},
				{
					Name:   "rollback",
					Usage:  l10n.T("Restore the raw config saved by the last update"),
					Action: updateRollbackAction,
				},
			},
			Action: updateSyncAction,
		},
		{
			Name:  "mixin",
			Usage: l10n.T("Show or change the user overrides"),
			Subcommands: []*cli.Command{
				{
					Name:   "edit",
					Usage:  l10n.T("Edit the mixin in $EDITOR and apply it"),
					Action: mixinEditAction,
				},
				{
					Name:   "runtime",
					Usage:  l10n.T("Show the generated runtime config"),
					Action: mixinRuntimeAction,
				},
				{
					Name:      "set",
					Usage:     l10n.T("Set mixin values, e.g. 'tun.enable=true'"),
					ArgsUsage: "KEY=VALUE...",
					Action:    mixinSetAction,
				},
			},
			Action: mixinShowAction,
		},
		{
			Name:   "merge",
			Usage:  l10n.T("Regenerate the runtime config from the raw config and the mixin"),
			Action: mergeAction,
		},
		{
			Name:   "info",
			Usage:  l10n.T("Show installation details"),
			Action: infoAction,
		},
	}
}
