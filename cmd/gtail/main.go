package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gtail/internal/output"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if err == nil {
		return
	}
	if errors.Is(err, output.ErrBrokenOutput) {
		// Die the way a writer into a vanished pipe dies, so a shell
		// pipeline sees the conventional status.
		signal.Reset(syscall.SIGPIPE)
		syscall.Kill(syscall.Getpid(), syscall.SIGPIPE)
	}
	if !errors.Is(err, errPartialFailure) && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "gtail: %v\n", err)
	}
	os.Exit(1)
}
