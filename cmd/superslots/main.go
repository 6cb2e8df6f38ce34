package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand(os.Stdout))
	os.Exit(execute(root, os.Stderr))
}

// execute runs root and maps its error to a process exit code.
func execute(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return 0
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		if ec.err != nil {
			_, _ = fmt.Fprintln(stderr, "Error:", ec.err)
		}
		return ec.code
	}
	_, _ = fmt.Fprintln(stderr, "Error:", err)
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

// buildRoot creates the root command and its subcommands
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c.global)
	root.AddCommand(
		createResetCommand(c),
		createListCommand(c),
		createTriggerCommand(c),
		createWaitCommand(c),
		createSweepCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "superslots",
		Short: "Wait on named slots and wake every waiter of a slot at once",
		Long: `Superslots lets processes wait on a named slot and run a command
every time another process triggers that slot.

Examples:
  superslots wait build -- make -j4      # run make on every trigger of "build"
  superslots trigger build               # wake everyone waiting on "build"
  superslots list                        # show all registrations
  superslots reset --yes-really          # drop the whole registry`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	return root
}

func createResetCommand(c *command) *cobra.Command {
	f := &ResetFlags{}
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every registration",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Reset(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.YesReally, "yes-really", false, "confirm dropping the whole registry")
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	f := &ListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every registered waiter",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVarP(&f.Processes, "processes", "p", false, "add process liveness and name")
	return cmd
}

func createTriggerCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <slot>",
		Short: "Wake every live waiter of a slot",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Trigger(cmd.Context(), TriggerFlags{Slot: args[0]})
		},
	}
}

func createWaitCommand(c *command) *cobra.Command {
	f := &WaitFlags{}
	cmd := &cobra.Command{
		Use:   "wait [--keepalive] [--special] <slot> <command...>",
		Short: "Register on a slot and run a command on every trigger",
		Long: `Register the current process on <slot> and sleep. Every trigger of the slot
runs <command>. Everything after <slot> belongs to the command.

Without --keepalive a failing command ends the wait with its exit status.
With --special the command is run by /bin/sh, so pipes and redirections work.

Examples:
  superslots wait build make -j4
  superslots wait build -- make -j4
  superslots wait --keepalive tests go test ./...
  superslots wait --special docs 'make html && echo done'`,
		Args: minArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Slot, f.Command = args[0], args[1:]
			if len(f.Command) > 0 && f.Command[0] == "--" {
				f.Command = f.Command[1:]
			}
			return c.Wait(cmd.Context(), *f)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&f.KeepAlive, "keepalive", false, "keep waiting even if the command fails")
	cmd.Flags().BoolVar(&f.Special, "special", false, "run the command through the shell")
	return cmd
}

func createSweepCommand(c *command) *cobra.Command {
	f := &SweepFlags{}
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove registrations older than the staleness threshold",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Sweep(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.OlderThan, "older-than", 0, "age threshold (default: stale_after from config)")
	return cmd
}
