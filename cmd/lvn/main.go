package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

// Version information (can be overridden at build time with -ldflags)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command := args[0]
	args = args[1:]

	var err error
	switch command {
	case "render":
		err = runRender(args, stdout, stderr)
	case "connect":
		err = runConnect(ctx, args, stdout, stderr)
	case "config":
		err = runConfig(args, stdout, stderr)
	case "version", "--version", "-v":
		printVersion(stdout)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 1
	}

	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// newLogger returns a text logger writing to w at level. Unknown levels
// fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "lvn version %s\n", version)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	var vcsRevision, vcsTime, vcsModified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRevision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			vcsModified = setting.Value
		}
	}

	if commit != "unknown" {
		fmt.Fprintf(w, "commit: %s\n", commit)
	} else if vcsRevision != "" {
		if len(vcsRevision) > 12 {
			vcsRevision = vcsRevision[:12]
		}
		fmt.Fprintf(w, "commit: %s\n", vcsRevision)
	}

	if date != "unknown" {
		fmt.Fprintf(w, "built: %s\n", date)
	} else if vcsTime != "" {
		if t, err := time.Parse(time.RFC3339, vcsTime); err == nil {
			fmt.Fprintf(w, "commit date: %s\n", t.Format("2006-01-02 15:04:05 MST"))
		}
	}

	if vcsModified == "true" {
		fmt.Fprintf(w, "modified: true (uncommitted changes)\n")
	}

	fmt.Fprintf(w, "go: %s\n", info.GoVersion)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `lvn - client for server-rendered live views

Usage:
  lvn <command> [flags]

Commands:
  render     Replay payload files offline and print the resulting markup
  connect    Connect to a live view page and follow its updates
  config     Print or write the effective configuration
  version    Show version information
  help       Show this help message

Examples:
  lvn render initial.json diff1.json diff2.json
  lvn render --diff --container phx-F1 initial.json diff.json
  lvn connect --url http://localhost:4000/counter
  lvn config --write

Run 'lvn <command> --help' for more information on a command.
`)
}
