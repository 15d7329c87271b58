package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evan-idocoding/peon/ops"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			bi := ops.BuildInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "peon %s\n", bi.Version)
			if bi.Revision != "" {
				modified := ""
				if bi.Modified {
					modified = " (modified)"
				}
				fmt.Fprintf(out, "revision: %s%s\n", bi.Revision, modified)
			}
			if bi.Time != "" {
				fmt.Fprintf(out, "built: %s\n", bi.Time)
			}
			fmt.Fprintf(out, "go: %s %s/%s\n", bi.GoVersion, bi.GOOS, bi.GOARCH)
		},
	}
}
