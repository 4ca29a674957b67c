package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/simulation"
	"github.com/spf13/cobra"
)

var dispositionOrder = []consumer.Disposition{
	consumer.Processed,
	consumer.Skipped,
	consumer.Ignored,
	consumer.Dropped,
	consumer.Retryable,
	consumer.Failed,
}

func newSimulateCmd(opts *options) *cobra.Command {
	var sim simulation.Options

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish generated orders through an in-memory broker",
		Long: `Publish generated orders through an in-memory broker that delivers every
event to every configured consumer, possibly several times and out of order.
The report shows each consumer's dispositions and how often its effect ran.

Examples:
  # Three copies of every delivery, shuffled
  fanoutctl simulate --orders 50 --duplicates 2 --shuffle

  # Idempotency store down for the first 5 checks
  fanoutctl simulate --store-outages 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			sim.Consumers = cfg.Consumers
			sim.Logger = opts.logger(cmd)

			report, err := simulation.Run(cmd.Context(), sim)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().IntVar(&sim.Orders, "orders", 20, "number of orders to create")
	cmd.Flags().IntVar(&sim.RefundEvery, "refund-every", 3, "request a refund for every n-th order (0 disables)")
	cmd.Flags().IntVar(&sim.Duplicates, "duplicates", 1, "extra copies of every delivery")
	cmd.Flags().BoolVar(&sim.Shuffle, "shuffle", true, "deliver in random order")
	cmd.Flags().Int64Var(&sim.Seed, "seed", 1, "random seed (0 picks one)")
	cmd.Flags().IntVar(&sim.SendFailures, "send-failures", 0, "fail the first n broker sends")
	cmd.Flags().IntVar(&sim.StoreOutages, "store-outages", 0, "fail the first n idempotency checks of every consumer")
	cmd.Flags().IntVar(&sim.MaxRedeliveries, "max-redeliveries", 3, "redeliveries of retryable results")

	return cmd
}

func printReport(cmd *cobra.Command, report *simulation.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "published %d events\n\n", report.Published)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"CONSUMER"}
	for _, d := range dispositionOrder {
		header = append(header, strings.ToUpper(d.String()))
	}
	header = append(header, "EFFECTS", "DUPLICATE EFFECTS")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	consumers := append([]simulation.ConsumerReport(nil), report.Consumers...)
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].Name < consumers[j].Name })

	for _, c := range consumers {
		row := []string{c.Name}
		for _, d := range dispositionOrder {
			row = append(row, fmt.Sprint(c.Dispositions[d]))
		}
		row = append(row, fmt.Sprint(c.Effects), fmt.Sprint(len(c.DuplicateEffects)))
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}
