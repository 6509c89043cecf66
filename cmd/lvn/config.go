package main

import (
	"fmt"
	"io"

	"github.com/livefir/livenative/internal/config"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// runConfig prints the effective configuration, or writes it with --write.
func runConfig(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: lvn config [flags]")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", config.ConfigFileName, "config file")
	write := fs.Bool("write", false, "write the effective config to the config file")
	pageURL := fs.String("url", "", "page hosting the live view")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("url") {
		cfg.URL = *pageURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if *write {
		if err := config.SaveConfig(*configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Wrote %s\n", *configPath)
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = stdout.Write(data)
	return err
}
