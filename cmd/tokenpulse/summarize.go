package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tokenpulse/internal/processor"
)

func summarizeCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Run one summarization job and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := buildPipeline(ctx, db, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			if limit == 0 {
				limit = p.proc.ConfiguredLimit()
			}
			res, err := p.proc.Run(ctx, processor.ClampLimit(limit))
			if err != nil {
				return err
			}
			if res.NoWork {
				fmt.Fprintln(cmd.OutOrStdout(), "No new messages")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max messages per batch (default SUMMARIZE_LIMIT)")
	return cmd
}
