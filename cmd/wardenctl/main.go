// Package main provides wardenctl, a host-side debug client for
// warden-agent.
//
// Usage:
//
//	wardenctl [global options] <command> [options]
//
// Commands build a request, send it in one frame and render the decoded
// response. Exit code is 1 when the agent answers with an error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warden/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "wardenctl",
		Usage:          "Send requests to a warden agent",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          connectionFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			healthCommand(),
			compileCommand(),
			execCommand(),
			manifestCommand(),
		},
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
