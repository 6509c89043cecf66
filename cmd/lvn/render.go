package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/livefir/livenative"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/pflag"
)

var (
	insertColor = color.New(color.FgGreen)
	deleteColor = color.New(color.FgRed)
	headerColor = color.New(color.FgCyan, color.Bold)
)

// runRender joins a session with the first payload file, applies the rest
// in order and prints the markup.
func runRender(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("render", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: lvn render [flags] initial.json [diff.json...]")
		fs.PrintDefaults()
	}
	container := fs.String("container", livenative.DefaultContainerID, "id of the container element")
	minify := fs.Bool("minify", false, "minify rendered markup")
	showDiff := fs.Bool("diff", false, "print the markup change of every diff instead of the final markup")
	dump := fs.Bool("dump", false, "print the merged tree as JSON after the last payload")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	files := fs.Args()
	if len(files) == 0 {
		fs.Usage()
		return errors.New("no payload files given")
	}

	session := livenative.New(
		livenative.WithContainerID(*container),
		livenative.WithMinify(*minify),
		livenative.WithLogger(newLogger(stderr, *logLevel)),
	)

	data, err := os.ReadFile(files[0])
	if err != nil {
		return err
	}
	update, err := session.Join(data)
	if err != nil {
		return fmt.Errorf("%s: %w", files[0], err)
	}
	if *showDiff {
		headerColor.Fprintf(stdout, "== %s\n", files[0])
		fmt.Fprintln(stdout, update.Markup)
	}

	markup := update.Markup
	for _, file := range files[1:] {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		update, err := session.Apply(data)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if *showDiff {
			headerColor.Fprintf(stdout, "== %s", file)
			if len(update.DroppedComponents) > 0 {
				fmt.Fprintf(stdout, " (dropped components %v)", update.DroppedComponents)
			}
			fmt.Fprintln(stdout)
			writeDiff(stdout, markup, update.Markup)
		}
		markup = update.Markup
	}

	if !*showDiff {
		fmt.Fprintln(stdout, markup)
	}
	if *dump {
		state, err := json.MarshalIndent(session.Rendered(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(state))
	}
	return nil
}

// writeDiff prints a character-level diff of two markups with deletions
// wrapped in [-...-] and insertions in {+...+}.
func writeDiff(w io.Writer, before, after string) {
	if before == after {
		fmt.Fprintln(w, "(no change)")
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			insertColor.Fprintf(w, "{+%s+}", d.Text)
		case diffmatchpatch.DiffDelete:
			deleteColor.Fprintf(w, "[-%s-]", d.Text)
		default:
			fmt.Fprint(w, d.Text)
		}
	}
	fmt.Fprintln(w)
}
