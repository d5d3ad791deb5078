package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/clash-cli/clashctl/internal/l10n"
	"github.com/clash-cli/clashctl/internal/merger"
	"github.com/clash-cli/clashctl/internal/proxyenv"
	"github.com/clash-cli/clashctl/internal/yamldoc"
)

const publicIPService = "https://api64.ipify.org"

func proxyEnvAction(c *cli.Context) error {
	settings := proxyenv.FromRuntime(loadRuntime())
	fmt.Print(settings.Script(proxyenv.ShellFromEnv(c.String("shell"))))
	return nil
}

func proxyUnsetAction(c *cli.Context) error {
	fmt.Print(proxyenv.UnsetScript(proxyenv.ShellFromEnv(c.String("shell"))))
	return nil
}

func proxyStatusAction(c *cli.Context) error {
	settings := proxyenv.FromRuntime(loadRuntime())
	st := proxyenv.CurrentStatus(c.Context, settings, os.Getenv)

	if st.Enabled {
		fmt.Println(l10n.T("Proxy variables: set"))
	} else {
		fmt.Println(l10n.T("Proxy variables: not set (run clash-proxy-on or 'eval \"$(%s proxy env)\"')", c.App.Name))
	}
	fmt.Println(l10n.T("HTTP proxy:      %s", settings.HTTPProxy()))
	fmt.Println(l10n.T("SOCKS proxy:     %s", settings.SOCKSProxy()))
	if st.Listening {
		fmt.Println(l10n.T("Mixed port %d:   listening", settings.Port))
	} else {
		fmt.Println(l10n.T("Mixed port %d:   not listening", settings.Port))
	}

	if !c.Bool("test") {
		return nil
	}
	err := withSpinner(l10n.T("Testing proxy connection"), func() error {
		return proxyenv.Check(c.Context, settings, "", config.RequestTimeout)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", l10n.T("proxy connection test failed"), err)
	}
	fmt.Println(l10n.T("Proxy connection works."))
	return nil
}

func uiAction(c *cli.Context) error {
	controller := proxyenv.ControllerFromRuntime(loadRuntime())

	fmt.Println(l10n.T("Local:   %s", controller.UIURL(localIP())))
	if ip := publicIP(c.Context); ip != "" {
		fmt.Println(l10n.T("Public:  %s", controller.UIURL(ip)))
	}
	secret := controller.Secret
	if secret == "" {
		secret = l10n.T("(none)")
	}
	fmt.Println(l10n.T("Secret:  %s", secret))
	return nil
}

// localIP returns the first non-loopback IPv4 address of the host.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}

func publicIP(ctx context.Context) string {
	client := newFetcher()
	client.Timeout = 5 * time.Second
	body, err := client.Fetch(ctx, publicIPService)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func secretAction(c *cli.Context) error {
	secret := c.Args().First()
	if c.Bool("generate") {
		if secret != "" {
			return errors.New(l10n.T("pass either a secret or --generate, not both"))
		}
		secret = uuid.NewString()
	}
	if secret == "" {
		current := proxyenv.ControllerFromRuntime(loadRuntime()).Secret
		if current == "" {
			current = l10n.T("(none)")
		}
		fmt.Println(current)
		return nil
	}

	if err := requireRoot(); err != nil {
		return err
	}
	if err := applyMixin(c.Context, yamldoc.MappingOf("secret", secret)); err != nil {
		return err
	}
	fmt.Println(l10n.T("Secret set to %s", secret))
	return nil
}

func tunAction(c *cli.Context) error {
	var enable bool
	switch arg := c.Args().First(); arg {
	case "":
		state := l10n.T("off")
		if proxyenv.TunEnabled(loadRuntime()) {
			state = l10n.T("on")
		}
		fmt.Println(l10n.T("TUN mode is %s", state))
		return nil
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return errors.New(l10n.T("unknown argument %q, expected on or off", arg))
	}

	if err := requireRoot(); err != nil {
		return err
	}
	if err := applyMixin(c.Context, yamldoc.MappingOf("tun", yamldoc.MappingOf("enable", enable))); err != nil {
		return err
	}
	if enable {
		fmt.Println(l10n.T("TUN mode enabled."))
	} else {
		fmt.Println(l10n.T("TUN mode disabled."))
	}
	return nil
}

func updateSyncAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	m := newMerger()
	var used string
	err := withSpinner(l10n.T("Updating subscription"), func() error {
		var err error
		used, err = m.Sync(c.Context, c.Args().First())
		return err
	})
	if err != nil {
		return err
	}
	fmt.Println(l10n.T("Subscription updated from %s", used))
	return restartIfRunning(c.Context, newService())
}

func updateLogAction(c *cli.Context) error {
	entries, err := newMerger().UpdateLog(c.Int("lines"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println(l10n.T("No subscription updates recorded."))
		return nil
	}
	for _, entry := range entries {
		fmt.Println(entry)
	}
	return nil
}

func updateRollbackAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	m := newMerger()
	if err := m.RestoreBackup(); err != nil {
		return err
	}
	if err := mergeAndRestart(c.Context, m, newService()); err != nil {
		return err
	}
	fmt.Println(l10n.T("Previous subscription config restored."))
	return nil
}

func mixinShowAction(c *cli.Context) error {
	mixin, err := newMerger().Mixin()
	if err != nil {
		return err
	}
	data, err := yamldoc.Marshal(mixin)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func mixinRuntimeAction(c *cli.Context) error {
	data, err := os.ReadFile(newMerger().Paths.Runtime)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func mixinSetAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New(l10n.T("nothing to set; pass KEY=VALUE arguments"))
	}
	patch, err := yamldoc.PatchFromAssignments(c.Args().Slice())
	if err != nil {
		return err
	}
	if err := requireRoot(); err != nil {
		return err
	}
	if err := applyMixin(c.Context, patch); err != nil {
		return err
	}
	fmt.Println(l10n.T("Mixin updated."))
	return nil
}

func mixinEditAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	m := newMerger()
	if _, err := m.InitMixin(); err != nil {
		return err
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}
	fields := strings.Fields(editor)
	cmd := exec.CommandContext(c.Context, fields[0], append(fields[1:], m.Paths.Mixin)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", l10n.T("editor failed"), err)
	}

	if _, err := m.Mixin(); err != nil {
		return err
	}
	err := mergeAndRestart(c.Context, m, newService())
	if errors.Is(err, merger.ErrRawConfigMissing) {
		fmt.Println(l10n.T("Mixin saved. It takes effect once a subscription is applied."))
		return nil
	}
	return err
}

func mergeAction(c *cli.Context) error {
	if err := requireRoot(); err != nil {
		return err
	}
	if err := mergeAndRestart(c.Context, newMerger(), newService()); err != nil {
		return err
	}
	fmt.Println(l10n.T("Runtime config regenerated."))
	return nil
}
