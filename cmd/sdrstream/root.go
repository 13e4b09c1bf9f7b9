package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rjboer/sdrstream/internal/config"
	"github.com/rjboer/sdrstream/internal/logging"
)

// cliOptions carries the global flags shared by every subcommand.
type cliOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	lookup     func(string) (string, bool)
	out        io.Writer
}

func newRootCmd(lookup func(string) (string, bool), out io.Writer) *cobra.Command {
	opts := &cliOptions{lookup: lookup, out: out}
	root := &cobra.Command{
		Use:   "sdrstream",
		Short: "Stream SDR sample blocks between processes",
		Long: `sdrstream moves blocks of radio samples from an acquisition process to
any number of consumers over PUB/SUB endpoints (tcp://, ipc://, inproc://
or nats://).

Run "sdrstream publish" next to the radio and "sdrstream monitor" wherever
the samples should be looked at.`,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default: built-in bench setup)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "text or json")

	root.AddCommand(newPublishCmd(opts))
	root.AddCommand(newMonitorCmd(opts))
	root.AddCommand(newDiscoverCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

// load builds the effective configuration: file or defaults, then the
// environment, then flags. Command specific overrides run last.
func (o *cliOptions) load(overrides ...func(*config.Config)) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	lookup := o.lookup
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	config.ApplyEnv(&cfg, lookup)
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	for _, apply := range overrides {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// logger builds the process logger and makes it the default.
func (o *cliOptions) logger(cfg config.Config) logging.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	format, _ := logging.ParseFormat(cfg.Log.Format)
	l := logging.New(level, format, o.out)
	logging.SetDefault(l)
	return l
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the effective configuration as YAML. With --save the result is
written to a file instead, ready to be passed back with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if save != "" {
				if err := config.Save(save, cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", save)
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "write the configuration to this file instead of printing it")
	return cmd
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
