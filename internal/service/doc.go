// Package service runs the proxy kernel as a systemd service.
//
// Units are controlled over the systemd D-Bus API. Start, Stop and Restart
// wait until systemd reports the state they asked for, so a caller that
// gets nil back can rely on the kernel running (or not).
package service
