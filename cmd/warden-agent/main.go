// Package main provides the warden-agent entrypoint, the guest-side
// process that serves compile, execute and health requests from the host.
//
// Usage:
//
//	warden-agent serve [options]
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: configuration error
//   - 2: transport error (bind, accept, read or write failure)
//   - 3: confinement error (resource control could not be applied)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warden/types"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitConfig      = 1
	exitTransport   = 2
	exitConfinement = 3
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "warden-agent",
		Usage:          "Guest agent serving compile and execute jobs over vsock",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			serveCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitTransport)
	}
}

// exitErrHandler handles errors from the CLI, respecting cli.ExitCoder.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitTransport)
}

// exitCodeFor maps a serve error to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if jobErr, ok := types.AsJobError(err); ok && jobErr.Kind == types.ErrorConfinement {
		return exitConfinement
	}
	return exitTransport
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "%s (commit: %s)\n", types.Version, commit)
			return err
		},
	}
}
