package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/splitledger/internal/store"
	"github.com/cleared-dev/splitledger/internal/syncer"
)

const flagDateFormat = "2006-01-02"

func newSyncCommand() *cobra.Command {
	var from, to string
	var skipImport bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import bank files, reconcile orders and rebuild derived records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := parseWindow(from, to)
			if err != nil {
				return err
			}

			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if !skipImport {
				stats, err := syncer.Ingest(ctx, p.store, p.root, p.cfg, p.log)
				if err != nil {
					return fmt.Errorf("import: %w", err)
				}
				fmt.Fprintf(out, "Imported %d files: %d new records, %d rows skipped\n", stats.Files, stats.Inserted, stats.Skipped)
			}

			books, skipped, err := syncer.LoadOrders(p.root, p.cfg, p.log)
			if err != nil {
				return fmt.Errorf("loading orders: %w", err)
			}
			if skipped > 0 {
				fmt.Fprintf(out, "Skipped %d malformed order rows\n", skipped)
			}

			sum, err := syncer.Run(ctx, p.store, syncer.Options{
				Root:   p.root,
				Window: window,
				Config: p.cfg,
				Orders: books,
				Log:    p.log,
			})
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			fmt.Fprintf(out, "Synced %d records: %d split, %d unsplit, %d failed, %d skipped (run %s)\n",
				sum.Records, sum.Split, sum.Mirrored, sum.Failed, sum.Skipped, sum.RunID)
			for _, f := range sum.Failures {
				fmt.Fprintf(out, "  failed: %v\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first posting date to sync (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last posting date to sync (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&skipImport, "no-import", false, "skip importing bank files")

	return cmd
}

func parseWindow(from, to string) (store.SourceFilter, error) {
	var f store.SourceFilter
	var err error
	if from != "" {
		if f.From, err = time.Parse(flagDateFormat, from); err != nil {
			return f, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if f.To, err = time.Parse(flagDateFormat, to); err != nil {
			return f, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return f, nil
}
