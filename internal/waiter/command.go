package waiter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

const (
	ExitOK = 0
	// ExitCommandNotFound is returned when the command cannot be started at all.
	ExitCommandNotFound = 255
)

var (
	ErrNoCommand       = errors.New("no command given")
	ErrCommandNotFound = errors.New("command not found")
)

// CommandFailedError reports a non-zero exit of the waiter's command.
type CommandFailedError struct {
	Code int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

// Command is the external task a waiter runs when woken.
// With Shell set the space-joined Args are interpreted by the system shell.
type Command struct {
	Args  []string
	Shell bool
}

// String is the form stored in the registry.
func (c Command) String() string { return strings.Join(c.Args, " ") }

func (c Command) Validate() error {
	if len(c.Args) == 0 || strings.TrimSpace(c.String()) == "" {
		return ErrNoCommand
	}
	return nil
}

func (c Command) build() *exec.Cmd {
	argv := c.Args
	if c.Shell {
		argv = shellArgv(c.String())
	}
	// #nosec G204
	return exec.Command(argv[0], argv[1:]...)
}

// Runner executes a command to completion and returns its exit code.
// An error wrapping ErrCommandNotFound means the command never started.
type Runner interface {
	Run(c Command) (int, error)
}

// ExecRunner runs commands as child processes. Nil streams inherit the
// waiter's own stdio.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
	Env    []string
}

func (r ExecRunner) Run(c Command) (int, error) {
	if err := c.Validate(); err != nil {
		return ExitCommandNotFound, err
	}
	cmd := c.build()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	if r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}
	if r.Stderr != nil {
		cmd.Stderr = r.Stderr
	}
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}
	if err := cmd.Start(); err != nil {
		return ExitCommandNotFound, fmt.Errorf("%w: %w", ErrCommandNotFound, err)
	}
	err := cmd.Wait()
	if err == nil {
		return ExitOK, nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return 1, err
	}
	code := ee.ExitCode()
	if code < 0 {
		// killed by a signal; report it the way shells do
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return 1, nil
	}
	return code, nil
}
