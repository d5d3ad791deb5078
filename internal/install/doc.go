// Package install puts the proxy kernel, its conversion helper and the
// service unit in place, and takes them away again.
package install
