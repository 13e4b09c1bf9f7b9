package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rjboer/sdrstream/internal/config"
	"github.com/rjboer/sdrstream/internal/mdns"
)

func newDiscoverCmd(opts *cliOptions) *cobra.Command {
	var (
		timeout time.Duration
		asYAML  bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for advertised channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			opts.logger(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			hosts, err := mdns.Discover(ctx)
			if err != nil {
				return err
			}
			if asYAML {
				return writeChannelsYAML(cmd.OutOrStdout(), hosts)
			}
			return writeHostTable(cmd.OutOrStdout(), hosts)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to browse")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print a channels block for the config file")
	return cmd
}

func writeHostTable(w io.Writer, hosts []mdns.Host) error {
	if len(hosts) == 0 {
		_, err := fmt.Fprintln(w, "no channels found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tTYPE\tROLE\tADDRESS\tHOST")
	for _, h := range hosts {
		d := h.Descriptor
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Type, d.Role, d.Address, strings.TrimSuffix(h.Hostname, "."))
	}
	return tw.Flush()
}

func writeChannelsYAML(w io.Writer, hosts []mdns.Host) error {
	doc := struct {
		Channels []config.ChannelConfig `yaml:"channels"`
	}{Channels: mergeDiscovered(nil, hosts)}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
