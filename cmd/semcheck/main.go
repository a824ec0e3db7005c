// Package main provides the semcheck binary entry point.
// Semcheck evaluates a declarative rule set against the structural
// facts of a source tree and reports compliance findings.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	// Register language front ends via init()
	_ "github.com/c360studio/semcheck/fact/golang"
	_ "github.com/c360studio/semcheck/fact/python"
	_ "github.com/c360studio/semcheck/fact/typescript"

	"github.com/c360studio/semcheck/commands"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.NewRootCommand().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, commands.ErrGateFailed):
		// Report already rendered; the exit code is the verdict.
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
