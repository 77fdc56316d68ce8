//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package logger

// Colour output is only enabled where a termios probe is available.
func isTerminal(uintptr) bool {
	return false
}
