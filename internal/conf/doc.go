// Package conf implements drop-in configuration file support for clashctl.
//
// This is the configuration of the tool itself (where the proxy lives, how
// long to wait for the network and for systemd), not the clash documents
// it manages; those live in package yamldoc and merger.
//
// # Usage
//
// The global Configuration variable is automatically loaded at package initialization:
//
//	import "github.com/clash-cli/clashctl/internal/conf"
//
//	func main() {
//	    fmt.Println(conf.Configuration.BaseDir)
//	}
//
// For custom configuration loading (e.g., testing), use ConfigSource:
//
//	cs := &conf.ConfigSource{
//	    Path:      "/custom/path/config.toml",
//	    DropInDir: "/custom/path/config.toml.d",
//	}
//	config, err := cs.Read()
//
// # Load Order
//
// Config is loaded and applied in three layers:
//
//  1. Embedded defaults (default.toml)
//  2. Main config file: /etc/clashctl/config.toml
//  3. Drop-in files: /etc/clashctl/config.toml.d/*.toml, in lexicographic order
//
// # Internal Architecture
//
//   - configDTO: internal struct with pointer fields for TOML parsing.
//     Pointers allow distinguishing "not set" (nil) from "set to zero value".
//     Durations are kept as strings and parsed with time.ParseDuration.
//
//   - Config: public struct with value fields. Has Update() method
//     to apply DTO values. Invalid values are logged and ignored.
//
//   - ConfigSource: orchestrates loading from multiple sources and manages
//     their merging.
package conf
