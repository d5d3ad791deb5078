package proxyenv

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/clash-cli/clashctl/internal/yamldoc"
)

const (
	integrationBegin = "# >>> clashctl proxy integration >>>"
	integrationEnd   = "# <<< clashctl proxy integration <<<"
)

// RCFile is the startup file under home that holds the integration for
// shell.
func RCFile(home string, shell Shell) string {
	switch shell {
	case Zsh:
		return filepath.Join(home, ".zshrc")
	case Fish:
		return filepath.Join(home, ".config", "fish", "conf.d", "clashctl.fish")
	default:
		return filepath.Join(home, ".bashrc")
	}
}

// Integration returns the marked block defining clash-proxy-on and
// clash-proxy-off, which load and clear the proxy variables through
// program.
func Integration(shell Shell, program string) string {
	var body string
	if shell == Fish {
		body = fmt.Sprintf(`function clash-proxy-on
    %[1]s proxy --shell fish env | source
end
function clash-proxy-off
    %[1]s proxy --shell fish unset | source
end
`, program)
	} else {
		body = fmt.Sprintf(`clash-proxy-on() { eval "$(%[1]s proxy --shell %[2]s env)"; }
clash-proxy-off() { eval "$(%[1]s proxy --shell %[2]s unset)"; }
`, program, shell)
	}
	return integrationBegin + "\n" + body + integrationEnd + "\n"
}

// InstallIntegration writes the integration block for shell into its
// startup file under home, replacing an older block. It reports the file
// and whether it changed.
func InstallIntegration(home string, shell Shell, program string) (string, bool, error) {
	path := RCFile(home, shell)
	current, err := readRC(path)
	if err != nil {
		return path, false, err
	}
	stripped := stripIntegration(current)
	updated := stripped
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	if updated != "" {
		updated += "\n"
	}
	updated += Integration(shell, program)
	if updated == current {
		return path, false, nil
	}
	if err := writeRC(path, updated); err != nil {
		return path, false, err
	}
	slog.Info("installed shell integration", "path", path, "shell", shell)
	return path, true, nil
}

// RemoveIntegration removes the integration block from every startup file
// under home that has one, and returns those files.
func RemoveIntegration(home string) ([]string, error) {
	var changed []string
	var errs []error
	for _, shell := range []Shell{Bash, Zsh, Fish} {
		path := RCFile(home, shell)
		current, err := readRC(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stripped := stripIntegration(current)
		if stripped == current {
			continue
		}
		if shell == Fish && strings.TrimSpace(stripped) == "" {
			// The fish file is ours alone.
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
		} else if err := writeRC(path, stripped); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("removed shell integration", "path", path)
		changed = append(changed, path)
	}
	return changed, errors.Join(errs...)
}

// stripIntegration drops the marked block and the blank line that
// separates it from what comes before.
func stripIntegration(content string) string {
	begin := strings.Index(content, integrationBegin)
	if begin < 0 {
		return content
	}
	end := strings.Index(content[begin:], integrationEnd)
	if end < 0 {
		return content
	}
	end += begin + len(integrationEnd)
	if end < len(content) && content[end] == '\n' {
		end++
	}
	before := content[:begin]
	if strings.HasSuffix(before, "\n\n") {
		before = before[:len(before)-1]
	}
	return before + content[end:]
}

func readRC(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	return string(data), nil
}

// writeRC replaces path, keeping the mode and owner of an existing file.
// A new file takes the owner of its closest existing ancestor, so running
// as root does not leave root-owned files in a user's home.
func writeRC(path, content string) error {
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	uid, gid, owned := ownerOf(path)
	chown := owned && os.Geteuid() == 0
	created := missingDirs(filepath.Dir(path))
	if err := yamldoc.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if !chown {
		return nil
	}
	for _, p := range append(created, path) {
		if err := os.Lchown(p, uid, gid); err != nil {
			slog.Warn("cannot restore owner", "path", p, "error", err)
		}
	}
	return nil
}

// missingDirs lists dir and its ancestors that do not exist yet.
func missingDirs(dir string) []string {
	var missing []string
	for p := dir; ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil || p == filepath.Dir(p) {
			return missing
		}
		missing = append(missing, p)
	}
}

func ownerOf(path string) (int, int, bool) {
	for p := path; ; p = filepath.Dir(p) {
		if info, err := os.Stat(p); err == nil {
			st, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return 0, 0, false
			}
			return int(st.Uid), int(st.Gid), true
		}
		if p == filepath.Dir(p) {
			return 0, 0, false
		}
	}
}
