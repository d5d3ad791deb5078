package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/clash-cli/clashctl/internal/install"
	"github.com/clash-cli/clashctl/internal/l10n"
)

func installAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	inst := newInstaller()
	opts := install.Options{
		Kernel:          c.String("kernel"),
		SubscriptionURL: c.String("url"),
		Force:           c.Bool("force"),
	}

	s := newSpinner(l10n.T("Installing"))
	inst.Step = func(description string) { setSpinnerMessage(s, description) }
	err := inst.Install(c.Context, opts)
	stopSpinner(s)
	if errors.Is(err, install.ErrAlreadyInstalled) {
		return fmt.Errorf("%w; %s", err, l10n.T("pass --force to reinstall"))
	}
	if err != nil {
		return err
	}

	fmt.Println(l10n.T("Installed to %s.", config.BaseDir))
	if !fileExists(inst.Merger.Paths.Runtime) {
		fmt.Println(l10n.T("Run '%s update <url>' to apply a subscription, then '%s on'.", c.App.Name, c.App.Name))
		return nil
	}
	svc := newService()
	if err := withSpinner(l10n.T("Starting service"), func() error { return svc.Start(c.Context) }); err != nil {
		return err
	}
	fmt.Println(l10n.T("Service started."))
	return nil
}

func uninstallAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	if !c.Bool("yes") {
		if !isTerminal(os.Stdin) {
			return errors.New(l10n.T("refusing to uninstall without confirmation; pass --yes"))
		}
		if !confirm(os.Stdin, os.Stdout, l10n.T("Remove the service and %s?", config.BaseDir)) {
			fmt.Println(l10n.T("Aborted."))
			return nil
		}
	}
	inst := newInstaller()
	if err := withSpinner(l10n.T("Uninstalling"), func() error { return inst.Uninstall(c.Context) }); err != nil {
		return err
	}
	fmt.Println(l10n.T("Uninstalled."))
	fmt.Println(l10n.T(`Run 'eval "$(%s proxy unset)"' to clear the proxy variables.`, c.App.Name))
	return nil
}

func infoAction(c *cli.Context) error {
	info := newInstaller().Info()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Version:"), c.App.Version)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Installed:"), yesNo(info.Installed))
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Architecture:"), info.Arch)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Kernel:"), info.Kernel)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Base directory:"), info.BaseDir)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Binaries:"), info.BinDir)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Configuration:"), info.ConfigDir)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Logs:"), info.LogDir)
	fmt.Fprintf(w, "%s\t%s\n", "mihomo:", yesNo(info.MihomoExists))
	fmt.Fprintf(w, "%s\t%s\n", "clash:", yesNo(info.ClashExists))
	fmt.Fprintf(w, "%s\t%s\n", "subconverter:", yesNo(info.SubconverterExists))
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Service unit:"), yesNo(info.ServiceInstalled))
	if url, ok := newMerger().SubscriptionURL(); ok {
		fmt.Fprintf(w, "%s\t%s\n", l10n.T("Subscription:"), url)
	}
	return w.Flush()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
