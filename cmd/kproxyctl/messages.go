package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/danmuck/kproxy/internal/protocol/schema"
	"github.com/spf13/cobra"
)

func newMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "List the decodable request kinds and versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tVERSION\tFLEXIBLE")
			for _, e := range schema.Default().Entries() {
				fmt.Fprintf(w, "%d\t%s\t%d\t%t\n", e.Key.APIKey, e.Name, e.Key.APIVersion, e.Flexible)
			}
			return w.Flush()
		},
	}
}
