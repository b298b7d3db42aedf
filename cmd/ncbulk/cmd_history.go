package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/ncbulk/pkg/cli"
	"github.com/newtron-network/ncbulk/pkg/store"
	"github.com/newtron-network/ncbulk/pkg/util"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [batch-id]",
	Short: "Show batches published to Redis",
	Long: `Show batches published to Redis with --redis (or redis.addr in the run
configuration).

Without arguments, lists the most recent batches. With a batch ID, shows the
outcome of every device of that batch.

Examples:
  ncbulk history --redis localhost:6379
  ncbulk history 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --redis localhost:6379`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !runConfig.RedisEnabled() {
			return fmt.Errorf("%w: history needs --redis or redis.addr", util.ErrInvalidConfig)
		}
		s := store.New(runConfig.StoreOptions())
		defer s.Close()

		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		if len(args) == 0 {
			batches, err := s.ListBatches(ctx, historyLimit)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				fmt.Fprintln(out, "No batches found")
				return nil
			}
			t := cli.NewTableTo(out, "BATCH", "GENERATED", "OPERATION", "TOTAL", "OK", "FAILED")
			for _, b := range batches {
				t.Row(b.ID,
					b.GeneratedAt.Local().Format("2006-01-02 15:04:05"),
					cli.Truncate(b.Operation, 40),
					fmt.Sprint(b.Summary.Total),
					fmt.Sprint(b.Summary.Succeeded),
					fmt.Sprint(b.Summary.Failed))
			}
			t.Flush()
			return nil
		}

		info, outcomes, err := s.LoadBatch(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("batch %s not found (expired or never published)", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Batch:     %s\n", info.ID)
		fmt.Fprintf(out, "Generated: %s\n", info.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Operation: %s\n\n", info.Operation)

		t := cli.NewTableTo(out, "DEVICE", "STATUS", "CATEGORY", "DURATION", "REASON").WithPrefix("  ")
		for _, o := range outcomes {
			category := string(o.Category)
			if category == "" {
				category = "-"
			}
			t.Row(o.Device, cli.Status(o.Succeeded), category,
				cli.Duration(o.Duration), cli.Truncate(o.Reason, 60))
		}
		t.Flush()
		fmt.Fprintf(out, "\n%d devices, %d succeeded, %d failed\n",
			info.Summary.Total, info.Summary.Succeeded, info.Summary.Failed)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum batches to list")
}
