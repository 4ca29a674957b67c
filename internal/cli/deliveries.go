package cli

import (
	"fmt"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/application/factories/infrastructure"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/postgres"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/usecase"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

func newDeliveriesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deliveries <event-id>",
		Short: "Show the outbox row and inbox records of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			factory := infrastructure.NewFactory(cfg)
			defer factory.Close()

			pool, err := factory.Postgres(cmd.Context())
			if err != nil {
				return err
			}

			uc := usecase.NewGetDeliveries(postgres.NewOutboxRepository(pool), postgres.NewInboxRepository(pool))
			dto, err := uc.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(dto, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newOutboxCmd(opts *options) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Outbox maintenance",
	}

	var olderThan time.Duration
	requeueCmd := &cobra.Command{
		Use:   "requeue",
		Short: "Hand rows stuck in processing back to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			factory := infrastructure.NewFactory(cfg)
			defer factory.Close()

			pool, err := factory.Postgres(cmd.Context())
			if err != nil {
				return err
			}

			n, err := postgres.NewOutboxRepository(pool).RequeueStale(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d events\n", n)
			return nil
		},
	}
	requeueCmd.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only rows claimed longer ago than this")

	outboxCmd.AddCommand(requeueCmd)
	return outboxCmd
}
