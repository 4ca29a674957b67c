package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConsumersCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "consumers",
		Short: "List the configured consumers and their filter rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEFFECT\tRULES")
			for _, c := range cfg.Consumers {
				rules := "*"
				if len(c.Rules) > 0 {
					rules = strings.Join(c.Rules, " AND ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Effect, rules)
			}
			return w.Flush()
		},
	}
}
