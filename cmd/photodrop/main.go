package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "photodrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photodrop",
		Short: "PhotoDrop operator CLI",
		Long: `PhotoDrop CLI covers day to day operations: computing content hashes, minting and
checking signed media URLs, issuing development tokens, requeueing derivative jobs,
preparing the database, and running the binaries from source.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newHashCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newTokenCmd(),
		newReprocessCmd(),
		newMigrateCmd(),
		newRunCmd(),
	)
	return cmd
}

// newRunCmd launches a binary from source with local-development backends
// selected through the environment.
func newRunCmd() *cobra.Command {
	var inline, memory bool
	cmd := &cobra.Command{
		Use:       "run server|worker [-- args]",
		Short:     "Run a PhotoDrop binary from source",
		Args:      cobra.MatchAll(cobra.MinimumNArgs(1), validBinary),
		ValidArgs: []string{"server", "worker"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "worker" && inline {
				return errors.New("--inline runs jobs inside the server; there is no worker to start")
			}
			var env []string
			if inline {
				env = append(env, "QUEUE_BACKEND=inline")
			}
			if memory {
				env = append(env, "STORAGE_BACKEND=memory", "DATABASE_URL=")
			}
			goArgs := append([]string{"run", "./cmd/" + args[0]}, args[1:]...)
			return runCommand(cmd.Context(), env, "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "Process derivatives inside the server (no Redis)")
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep objects and records in memory")
	return cmd
}

func validBinary(_ *cobra.Command, args []string) error {
	switch args[0] {
	case "server", "worker":
		return nil
	}
	return fmt.Errorf("unknown binary %q", args[0])
}

func runCommand(ctx context.Context, env []string, name string, args ...string) error {
	c := exec.CommandContext(ctx, name, args...)
	c.Env = append(os.Environ(), env...)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	return c.Run()
}
