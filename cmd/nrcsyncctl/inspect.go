package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/production"
	"github.com/xtxerr/nrcsync/internal/store"
)

func newInspectCommand() *cobra.Command {
	var (
		dbPath         string
		rundownID      string
		sofie          bool
		productionView bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show cached rundowns from a database file",
		Long: "Show cached rundowns from a database file. DuckDB allows one process\n" +
			"per file, so point --db at a stopped daemon's database or a copy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg := store.DefaultConfig()
			cfg.DSN = dbPath
			db, err := store.New(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()

			if rundownID == "" {
				rows := [][]string{}
				for _, c := range []cache.Collection{cache.CollectionNrcs, cache.CollectionSofie} {
					infos, err := db.ListRundowns(ctx, c)
					if err != nil {
						return err
					}
					for _, info := range infos {
						rows = append(rows, []string{
							string(c), info.RundownID, strconv.Itoa(info.Rows), formatMs(info.Modified),
						})
					}
				}
				fmt.Fprintln(out, renderTable([]string{"COLLECTION", "RUNDOWN", "ROWS", "MODIFIED"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			}

			if productionView {
				model, err := production.NewStore(ctx, db)
				if err != nil {
					return err
				}
				rd, err := model.Snapshot(ctx, rundownID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s  %q  on_air=%t\n", rd.ExternalID, rd.Name, rd.OnAir)
				fmt.Fprintln(out, renderTable(productionHeaders, productionRows(rd), treeAligns))
				return nil
			}

			var tree *ingest.Rundown
			var rev uint64
			if sofie {
				c, err := cache.LoadSofie(ctx, db, rundownID)
				if err != nil {
					return err
				}
				if tree, err = c.FetchLocal(); err != nil {
					return err
				}
				if rev, err = c.SourceRevision(); err != nil {
					return err
				}
			} else {
				c, err := cache.LoadNrcs(ctx, db, rundownID)
				if err != nil {
					return err
				}
				if tree, err = c.Fetch(); err != nil {
					return err
				}
				if rev, err = c.Revision(); err != nil {
					return err
				}
			}
			if tree == nil {
				return fmt.Errorf("rundown %q is not cached", rundownID)
			}

			fmt.Fprintf(out, "%s  %q  revision=%d\n", tree.ExternalID, tree.Name, rev)
			fmt.Fprintln(out, renderTable(treeHeaders, treeRows(tree), treeAligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database file")
	cmd.Flags().StringVar(&rundownID, "rundown", "", "rundown external id; lists rundowns when empty")
	cmd.Flags().BoolVar(&sofie, "sofie", false, "show the reconciled tree instead of the NRCS tree")
	cmd.Flags().BoolVar(&productionView, "production", false, "show the production model")
	_ = cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("sofie", "production")
	return cmd
}

var (
	treeHeaders       = []string{"SEGMENT", "PART", "RANK", "NAME"}
	productionHeaders = []string{"SEGMENT", "PART", "RANK", "NAME", "STATE"}
	treeAligns        = []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
)

func treeRows(rd *ingest.Rundown) [][]string {
	var rows [][]string
	for _, s := range rd.Segments {
		rows = append(rows, []string{s.ExternalID, "", rank(s.Rank), s.Name})
		for _, p := range s.Parts {
			rows = append(rows, []string{"", p.ExternalID, rank(p.Rank), p.Name})
		}
	}
	return rows
}

func productionRows(rd *production.Rundown) [][]string {
	var rows [][]string
	for _, s := range rd.Segments {
		state := ""
		switch {
		case s.OnAir:
			state = "on air"
		case s.Orphaned != "":
			state = "orphaned (" + s.Orphaned + ")"
		}
		rows = append(rows, []string{s.ExternalID, "", rank(s.Rank), s.Name, state})
		for _, p := range s.Parts {
			rows = append(rows, []string{"", p.ExternalID, rank(p.Rank), p.Name, ""})
		}
	}
	return rows
}

func rank(r float64) string {
	return strconv.FormatFloat(r, 'g', -1, 64)
}

func formatMs(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
