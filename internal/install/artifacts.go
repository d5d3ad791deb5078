package install

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	MihomoVersion       = "v1.19.2"
	ClashVersion        = "2023.08.17"
	SubconverterVersion = "v0.9.0"

	GeoIPURL = "https://github.com/Dreamacro/maxmind-geoip/releases/latest/download/Country.mmdb"
)

// ErrUnsupportedArch is returned for machines no release is built for.
var ErrUnsupportedArch = errors.New("unsupported architecture")

var archAliases = map[string]string{
	"x86_64":  "x86_64",
	"amd64":   "x86_64",
	"aarch64": "aarch64",
	"arm64":   "aarch64",
	"armv7l":  "armv7",
	"armv7":   "armv7",
}

// NormalizeArch maps a machine name as reported by uname to one of
// x86_64, aarch64 or armv7.
func NormalizeArch(machine string) (string, error) {
	arch, ok := archAliases[strings.ToLower(machine)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedArch, machine)
	}
	return arch, nil
}

// Arch returns the normalized architecture of the running kernel.
func Arch() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", fmt.Errorf("cannot determine architecture: %w", err)
	}
	return NormalizeArch(unix.ByteSliceToString(u.Machine[:]))
}

var kernelURLs = map[string]map[string]string{
	"mihomo": {
		"x86_64":  "https://github.com/MetaCubeX/mihomo/releases/download/" + MihomoVersion + "/mihomo-linux-amd64-compatible-" + MihomoVersion + ".gz",
		"aarch64": "https://github.com/MetaCubeX/mihomo/releases/download/" + MihomoVersion + "/mihomo-linux-arm64-" + MihomoVersion + ".gz",
		"armv7":   "https://github.com/MetaCubeX/mihomo/releases/download/" + MihomoVersion + "/mihomo-linux-armv7-" + MihomoVersion + ".gz",
	},
	"clash": {
		"x86_64":  "https://downloads.clash.wiki/ClashPremium/clash-linux-amd64-" + ClashVersion + ".gz",
		"aarch64": "https://downloads.clash.wiki/ClashPremium/clash-linux-arm64-" + ClashVersion + ".gz",
		"armv7":   "https://downloads.clash.wiki/ClashPremium/clash-linux-armv5-" + ClashVersion + ".gz",
	},
}

var subconverterURLs = map[string]string{
	"x86_64":  "https://github.com/tindy2013/subconverter/releases/download/" + SubconverterVersion + "/subconverter_linux64.tar.gz",
	"aarch64": "https://github.com/tindy2013/subconverter/releases/download/" + SubconverterVersion + "/subconverter_aarch64.tar.gz",
	"armv7":   "https://github.com/tindy2013/subconverter/releases/download/" + SubconverterVersion + "/subconverter_armv7.tar.gz",
}

// KernelURL returns where the gzip-compressed kernel binary is published.
func KernelURL(kernel, arch string) (string, error) {
	urls, ok := kernelURLs[kernel]
	if !ok {
		return "", fmt.Errorf("unsupported kernel %q", kernel)
	}
	u, ok := urls[arch]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s build", ErrUnsupportedArch, kernel, arch)
	}
	return u, nil
}

// SubconverterURL returns where the subconverter tarball is published.
func SubconverterURL(arch string) (string, error) {
	u, ok := subconverterURLs[arch]
	if !ok {
		return "", fmt.Errorf("%w: subconverter has no %s build", ErrUnsupportedArch, arch)
	}
	return u, nil
}
