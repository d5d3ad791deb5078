// Package proxyenv derives proxy environment variables and dashboard
// details from a runtime config. It never changes the environment of the
// current process; callers hand the result to a shell or a child process.
package proxyenv
