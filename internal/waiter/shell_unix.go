//go:build !windows

package waiter

// shellArgv is the argv that hands script to the system shell.
func shellArgv(script string) []string { return []string{"/bin/sh", "-c", script} }
