package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ajramos/drive-organizer/internal/services"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, openApp))
}

// run executes the command line and maps the outcome to an exit code.
// Interrupts cancel the running command, which still persists whatever
// it already changed.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer, open opener) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(open)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// Exit codes besides 0 and 1
const (
	exitPermanent    = 2
	exitUndoConflict = 3
	exitTempFail     = 75
	exitInterrupted  = 130
)

// exitCode separates interrupted runs, undo conflicts, failures worth
// retrying and failures that will not go away on their own
func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, services.ErrAlreadyReverted), errors.Is(err, services.ErrUndoInFlight):
		return exitUndoConflict
	case services.IsRetryableError(err):
		return exitTempFail
	case services.IsPermanentError(err):
		return exitPermanent
	default:
		return 1
	}
}
