// nrcsyncctl sends ingest operations to nrcsyncd and inspects its data.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type gatewayFlags struct {
	addr          string
	token         string
	tls           bool
	tlsSkipVerify bool
}

func newRootCommand() *cobra.Command {
	var gw gatewayFlags

	root := &cobra.Command{
		Use:           "nrcsyncctl",
		Short:         "Control and inspect nrcsyncd",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&gw.addr, "addr", "", "gateway address")
	root.PersistentFlags().StringVar(&gw.token, "token", os.Getenv("NRCSYNC_TOKEN"), "auth token")
	root.PersistentFlags().BoolVar(&gw.tls, "tls", false, "connect with TLS")
	root.PersistentFlags().BoolVar(&gw.tlsSkipVerify, "tls-skip-verify", false, "skip TLS certificate verification")

	root.AddCommand(newSendCommand(&gw))
	root.AddCommand(newStatsCommand(&gw))
	root.AddCommand(newInspectCommand())
	root.AddCommand(newJournalCommand())
	return root
}
