//go:build !windows

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/loykin/superslots"
	"github.com/loykin/superslots/internal/prober"
)

// awaitRegistered polls the registry until the waiter of slot shows up. From
// then on its signal handlers are installed.
func awaitRegistered(t *testing.T, dir, slot string) {
	t.Helper()
	c, _ := testCommand(t, dir, prober.SignalProber{})
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		found := false
		require.NoError(t, c.withClient(func(cl *superslots.Client) error {
			entries, err := cl.List(context.Background())
			for _, e := range entries {
				found = found || (e.Slot == slot && e.PID == os.Getpid())
			}
			return err
		}))
		if found {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("waiter on %q never registered", slot)
}

func startWait(t *testing.T, dir string, args ...string) <-chan int {
	t.Helper()
	c, _ := testCommand(t, dir, prober.SignalProber{})
	done := make(chan int, 1)
	go func() {
		code, _ := run(c, append([]string{"wait"}, args...)...)
		done <- code
	}()
	return done
}

func exitCode(t *testing.T, done <-chan int) int {
	t.Helper()
	select {
	case code := <-done:
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("wait did not return")
		return -1
	}
}

func TestWaitFailingCommandWithoutKeepAlive(t *testing.T) {
	dir := t.TempDir()
	done := startWait(t, dir, "build", "sh", "-c", "exit 3")
	awaitRegistered(t, dir, "build")

	c, out := testCommand(t, dir, prober.SignalProber{})
	code, _ := run(c, "trigger", "build")
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "-> alive")

	assert.Equal(t, 3, exitCode(t, done))

	out.Reset()
	run(c, "list")
	assert.Contains(t, out.String(), "No waiters registered")
}

func TestWaitKeepAliveRunsUntilTerminated(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(t.TempDir(), "ran")
	done := startWait(t, dir, "--keepalive", "--special", "tests", "touch "+marker+"; false")
	awaitRegistered(t, dir, "tests")

	c, _ := testCommand(t, dir, prober.SignalProber{})
	code, _ := run(c, "trigger", "tests")
	require.Equal(t, 0, code)

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	// still registered after the failed run
	awaitRegistered(t, dir, "tests")
	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGTERM))
	assert.Equal(t, 0, exitCode(t, done))

	// SIGTERM is a graceful shutdown: the registration is gone
	lc, out := testCommand(t, dir, prober.SignalProber{})
	code, _ = run(lc, "list", "--json")
	require.Equal(t, 0, code)
	assert.Equal(t, "[]\n", out.String())
}

func TestWaitCommandNotFound(t *testing.T) {
	dir := t.TempDir()
	done := startWait(t, dir, "--keepalive", "nf", "/nonexistent/superslots-cmd")
	awaitRegistered(t, dir, "nf")

	c, _ := testCommand(t, dir, prober.SignalProber{})
	run(c, "trigger", "nf")
	assert.Equal(t, superslots.ExitCommandNotFound, exitCode(t, done))
}
