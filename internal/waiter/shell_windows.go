//go:build windows

package waiter

func shellArgv(script string) []string { return []string{"cmd", "/C", script} }
