package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/evan-idocoding/peon/internal/journal"
)

func newHistoryCmd(load loadFunc) *cobra.Command {
	var (
		limit  int
		asJSON bool
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished tasks from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := dbPath
			if path == "" {
				_, cfg, err := load()
				if err != nil {
					return err
				}
				if !cfg.Journal.Enabled {
					return errors.New("journal is disabled; pass --db to read one")
				}
				path = cfg.Journal.Path
			}

			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			recs, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			return printRecords(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&dbPath, "db", "", "journal file (default journal.path from config)")
	return cmd
}

func printRecords(out io.Writer, recs []journal.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(out, "no finished tasks")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDED\tTYPE\tNAME\tSTATE\tPROGRESS\tELAPSED\tDETAIL")
	for _, r := range recs {
		total := "?"
		if r.Total >= 0 {
			total = fmt.Sprint(r.Total)
		}
		detail := r.Status
		switch {
		case r.ErrorMessage != "":
			detail = r.ErrorMessage
		case r.Fault != "":
			detail = r.Fault
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%s\t%s\t%s\n",
			r.EndedAt.Local().Format(time.DateTime), r.Type, r.Name, r.State,
			r.Progress, total, r.Elapsed().Truncate(time.Millisecond), detail)
	}
	return tw.Flush()
}
