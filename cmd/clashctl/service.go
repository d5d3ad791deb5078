package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/clash-cli/clashctl/internal/l10n"
	"github.com/clash-cli/clashctl/internal/proxyenv"
)

func onAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	svc := newService()
	if err := withSpinner(l10n.T("Starting service"), func() error { return svc.Start(c.Context) }); err != nil {
		return err
	}
	fmt.Println(l10n.T("Service started."))
	fmt.Println(l10n.T(`Run 'eval "$(%s proxy env)"' to use the proxy in this shell.`, c.App.Name))
	return nil
}

func offAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	svc := newService()
	if err := withSpinner(l10n.T("Stopping service"), func() error { return svc.Stop(c.Context) }); err != nil {
		return err
	}
	fmt.Println(l10n.T("Service stopped."))
	fmt.Println(l10n.T(`Run 'eval "$(%s proxy unset)"' to clear the proxy variables.`, c.App.Name))
	return nil
}

func restartAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	svc := newService()
	if err := withSpinner(l10n.T("Restarting service"), func() error { return svc.Restart(c.Context) }); err != nil {
		return err
	}
	fmt.Println(l10n.T("Service restarted."))
	return nil
}

func yesNo(b bool) string {
	if b {
		return l10n.T("yes")
	}
	return l10n.T("no")
}

func statusAction(c *cli.Context) error {
	svc := newService()
	st, err := svc.Status(c.Context)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", l10n.T("Installed:"), yesNo(st.Installed))
	if st.Installed {
		fmt.Fprintf(w, "%s\t%s (%s)\n", l10n.T("State:"), st.ActiveState, st.SubState)
		fmt.Fprintf(w, "%s\t%s\n", l10n.T("Enabled:"), yesNo(st.Enabled))
		if st.MainPID != 0 {
			fmt.Fprintf(w, "%s\t%d\n", l10n.T("PID:"), st.MainPID)
		}
		if st.Running && !st.Since.IsZero() {
			fmt.Fprintf(w, "%s\t%s\n", l10n.T("Since:"), st.Since.Format("2006-01-02 15:04:05"))
		}
		runtime := loadRuntime()
		settings := proxyenv.FromRuntime(runtime)
		fmt.Fprintf(w, "%s\t%d\n", l10n.T("Mixed port:"), settings.Port)
		fmt.Fprintf(w, "%s\t%s\n", l10n.T("TUN mode:"), yesNo(proxyenv.TunEnabled(runtime)))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !st.Installed || (c.Int("lines") <= 0 && !c.Bool("follow")) {
		return nil
	}
	fmt.Println()
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Logs(ctx, c.Int("lines"), c.Bool("follow"), os.Stdout)
}
