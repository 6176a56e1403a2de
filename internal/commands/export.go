package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/splitledger/internal/export"
	"github.com/cleared-dev/splitledger/internal/store"
)

func newExportCommand() *cobra.Command {
	var out, from, to string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write derived records as CSV",
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

			recs, err := p.store.ListDerived(cmd.Context(), store.DerivedFilter{SourceFilter: window})
			if err != nil {
				return err
			}

			if out == "" {
				return export.WriteRecords(cmd.OutOrStdout(), recs)
			}
			if err := export.WriteFile(out, recs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", len(recs), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&from, "from", "", "first posting date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last posting date (YYYY-MM-DD)")

	return cmd
}
