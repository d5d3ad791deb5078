package conf

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPath      = "/etc/clashctl/config.toml"
	DefaultDropInDir = "/etc/clashctl/config.toml.d/"
)

func init() {
	sources := &ConfigSource{
		Path:      DefaultPath,
		DropInDir: DefaultDropInDir,
	}
	config, err := sources.Read()
	if err != nil {
		config = Defaults()
	}
	Configuration = config
}

// defaultConfig contains the embedded default configuration file.
// It is the base layer applied before the main file and drop-ins.
//
//go:embed default.toml
var defaultConfig string

// Configuration is the global immutable state.
var Configuration Config

// Config represents the immutable public configuration object.
type Config struct {
	BaseDir              string
	Kernel               string
	ServiceName          string
	UnitPath             string
	SubconverterPort     int
	SubconverterTemplate string
	RequestTimeout       time.Duration
	DownloadTimeout      time.Duration
	ServiceTimeout       time.Duration
	UserAgent            string
	LogLevel             slog.Level
}

// Defaults returns the configuration described by the embedded defaults.
func Defaults() Config {
	dto, err := parseConfigDTO(defaultConfig)
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded defaults: %v", err))
	}
	var c Config
	c.Update(dto)
	return c
}

// ConfigDir holds the raw, mixin and runtime documents.
func (c Config) ConfigDir() string { return filepath.Join(c.BaseDir, "config") }

func (c Config) BinDir() string { return filepath.Join(c.BaseDir, "bin") }

func (c Config) LogDir() string { return filepath.Join(c.BaseDir, "logs") }

// KernelPath is the proxy daemon binary started by the service unit.
func (c Config) KernelPath() string { return filepath.Join(c.BinDir(), c.Kernel) }

func (c Config) SubconverterDir() string { return filepath.Join(c.BinDir(), "subconverter") }

// Update applies non-nil values from a configDTO.
func (c *Config) Update(dto configDTO) {
	if dto.BaseDir != nil {
		c.BaseDir = *dto.BaseDir
	}
	if dto.Kernel != nil {
		switch *dto.Kernel {
		case "mihomo", "clash":
			c.Kernel = *dto.Kernel
		default:
			slog.Warn("ignoring unsupported kernel", "kernel", *dto.Kernel)
		}
	}
	if dto.ServiceName != nil {
		c.ServiceName = *dto.ServiceName
	}
	if dto.UnitPath != nil {
		c.UnitPath = *dto.UnitPath
	}
	if dto.SubconverterPort != nil {
		c.SubconverterPort = *dto.SubconverterPort
	}
	if dto.SubconverterTemplate != nil {
		c.SubconverterTemplate = *dto.SubconverterTemplate
	}
	updateDuration(&c.RequestTimeout, "request-timeout", dto.RequestTimeout)
	updateDuration(&c.DownloadTimeout, "download-timeout", dto.DownloadTimeout)
	updateDuration(&c.ServiceTimeout, "service-timeout", dto.ServiceTimeout)
	if dto.UserAgent != nil {
		c.UserAgent = *dto.UserAgent
	}
	if dto.LogLevel != nil {
		if level, ok := ParseLevel(*dto.LogLevel); ok {
			c.LogLevel = level
		}
	}
}

func updateDuration(dst *time.Duration, key string, value *string) {
	if value == nil {
		return
	}
	d, err := time.ParseDuration(*value)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", "key", key, "value", *value)
		return
	}
	*dst = d
}

// ParseLevel maps the names used in config files and on the command line
// to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// ConfigSource orchestrates loading configuration from multiple sources.
// See the Read method.
type ConfigSource struct {
	Path      string
	DropInDir string
}

// Read loads and returns the complete Config by merging all layers:
// 1. Embedded defaults
// 2. Main configuration file
// 3. Drop-in files
func (cs *ConfigSource) Read() (Config, error) {
	resolved := Config{}

	// Start with embedded defaults
	dto, err := parseConfigDTO(defaultConfig)
	if err != nil {
		slog.Error("failed to parse embedded defaults", "error", err)
		return resolved, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}
	resolved.Update(dto)

	// Load main configuration file
	data, err := os.ReadFile(cs.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			// Existing but unreadable file should result in failure.
			return resolved, fmt.Errorf("failed to load %s: %w", cs.Path, err)
		}
	} else {
		mainDTO, err := parseConfigDTO(string(data))
		if err != nil {
			// Existing but malformed file should result in failure (let's not hide
			// problems from the users).
			return resolved, fmt.Errorf("failed to parse %s: %w", cs.Path, err)
		}
		resolved.Update(mainDTO)
	}

	// Load drop-in files
	dropInDTOs, err := cs.parseDropInFiles()
	if err != nil {
		slog.Error("failed to load drop-in files", "error", err, "dir", cs.DropInDir)
		return resolved, err
	}

	// Apply each drop-in file in order
	for _, dropInDTO := range dropInDTOs {
		resolved.Update(dropInDTO)
	}

	return resolved, nil
}

type configDTO struct {
	BaseDir              *string `toml:"base-dir"`
	Kernel               *string `toml:"kernel"`
	ServiceName          *string `toml:"service-name"`
	UnitPath             *string `toml:"unit-path"`
	SubconverterPort     *int    `toml:"subconverter-port"`
	SubconverterTemplate *string `toml:"subconverter-template"`
	RequestTimeout       *string `toml:"request-timeout"`
	DownloadTimeout      *string `toml:"download-timeout"`
	ServiceTimeout       *string `toml:"service-timeout"`
	UserAgent            *string `toml:"user-agent"`
	LogLevel             *string `toml:"log-level"`
}

// parseConfigDTO parses a TOML string into a configDTO.
func parseConfigDTO(data string) (configDTO, error) {
	var dto configDTO

	if err := toml.Unmarshal([]byte(data), &dto); err != nil {
		return dto, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return dto, nil
}

// findDropInFiles finds and returns sorted paths to drop-in configuration files.
// Returns nil if the drop-in directory doesn't exist (not an error).
func (cs *ConfigSource) findDropInFiles() ([]string, error) {
	if _, err := os.Stat(cs.DropInDir); os.IsNotExist(err) {
		return nil, nil
	}

	entries, err := os.ReadDir(cs.DropInDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read drop-in directory %s: %w", cs.DropInDir, err)
	}

	var filenames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".toml") {
			filenames = append(filenames, filepath.Join(cs.DropInDir, entry.Name()))
		}
	}

	sort.Strings(filenames)

	return filenames, nil
}

// parseDropInFiles loads .toml files.
func (cs *ConfigSource) parseDropInFiles() ([]configDTO, error) {
	paths, err := cs.findDropInFiles()
	if err != nil {
		return nil, err
	}

	var dtos []configDTO
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		dto, err := parseConfigDTO(string(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		dtos = append(dtos, dto)
	}

	return dtos, nil
}
