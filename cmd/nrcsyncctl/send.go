package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/gateway"
	"github.com/xtxerr/nrcsync/internal/stats"
	"github.com/xtxerr/nrcsync/internal/wire"
)

func (g *gatewayFlags) dial(ctx context.Context) (*gateway.Client, error) {
	return gateway.Dial(ctx, gateway.ClientConfig{
		Addr:          g.addr,
		Token:         g.token,
		TLS:           g.tls,
		TLSSkipVerify: g.tlsSkipVerify,
	})
}

func newSendCommand(gw *gatewayFlags) *cobra.Command {
	var (
		op      string
		file    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one ingest operation",
		Long: "Send one ingest operation. The request body is a JSON object read\n" +
			"from --file, or from stdin when --file is \"-\" or omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if file == "" || file == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := gw.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.CallJSON(ctx, op, body)
			if err != nil {
				return err
			}
			out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp.Result)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", "", "operation kind, e.g. updateRundown or mosInsertStories")
	cmd.Flags().StringVarP(&file, "file", "f", "", "request body file")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultRequestTimeout, "request timeout")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func newStatsCommand(gw *gatewayFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-kind operation statistics of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), config.DefaultRequestTimeout)
			defer cancel()

			c, err := gw.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Call(ctx, gateway.OpStats, nil)
			if err != nil {
				return err
			}
			var snap struct {
				Stats []stats.KindStats `json:"stats"`
			}
			if err := wire.FromStruct(resp.Result, &snap); err != nil {
				return err
			}

			rows := make([][]string, 0, len(snap.Stats))
			for _, s := range snap.Stats {
				rows = append(rows, []string{
					s.Kind,
					strconv.FormatInt(s.Count, 10),
					strconv.FormatInt(s.Errors, 10),
					strconv.FormatInt(s.Retriable, 10),
					strconv.FormatInt(s.Resynced, 10),
					ms(s.Avg), ms(s.P50), ms(s.P90), ms(s.P99), ms(s.Max),
				})
			}
			right := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight,
				alignRight, alignRight, alignRight, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"KIND", "COUNT", "ERRORS", "RETRIABLE", "RESYNCED", "AVG", "P50", "P90", "P99", "MAX"},
				rows, right))
			return nil
		},
	}
}

func ms(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "ms"
}
