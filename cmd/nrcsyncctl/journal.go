package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/journal"
)

func newJournalCommand() *cobra.Command {
	var (
		dir     string
		rundown string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recorded operations from a journal directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := journal.ReadDir(dir)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, r := range records {
				if rundown != "" && r.RundownExternalID != rundown {
					continue
				}
				result := "ok"
				if r.ErrorCode != 0 {
					result = errors.CodeName(r.ErrorCode)
				}
				flags := ""
				if r.RegenerateRundown {
					flags += "R"
				}
				if r.Resynced {
					flags += "S"
				}
				if r.RundownRemoved {
					flags += "D"
				}
				rows = append(rows, []string{
					formatMs(r.StartedAtMs),
					r.Kind,
					r.RundownExternalID,
					r.Action,
					fmt.Sprintf("%d/%d/%d/%d", r.SegmentsChanged, r.SegmentsRemoved, r.SegmentsRenamed, r.SegmentsMoved),
					flags,
					strconv.FormatFloat(r.DurationMs, 'f', 1, 64),
					result,
				})
			}
			if limit > 0 && len(rows) > limit {
				rows = rows[len(rows)-limit:]
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"STARTED", "KIND", "RUNDOWN", "ACTION", "CHG/RM/REN/MV", "FLAGS", "MS", "RESULT"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "journal directory")
	cmd.Flags().StringVar(&rundown, "rundown", "", "only show this rundown")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "show the last n records, 0 for all")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}
