package commands

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/splitledger/internal/model"
	"github.com/cleared-dev/splitledger/internal/store"
)

func newRecordsCommand() *cobra.Command {
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and enrich derived records",
	}
	recordsCmd.PersistentFlags().String("source", "", "source feed; required when an id exists in more than one feed")
	recordsCmd.AddCommand(newRecordsListCommand())
	recordsCmd.AddCommand(newRecordsVerifyCommand())
	recordsCmd.AddCommand(newRecordsCategorizeCommand())
	recordsCmd.AddCommand(newRecordsTagCommand())
	recordsCmd.AddCommand(newRecordsNoteCommand())
	return recordsCmd
}

func newRecordsListCommand() *cobra.Command {
	var (
		uncategorized bool
		sourceID      string
		category      string
		tag           string
		from, to      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List derived records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			window.Source = source

			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			f := store.DerivedFilter{
				SourceFilter:  window,
				Uncategorized: uncategorized,
				CategoryID:    category,
				Tag:           tag,
			}
			if sourceID != "" {
				if source == "" {
					return errors.New("--source-id requires --source")
				}
				f.SourceKey = &model.SourceKey{ExternalID: sourceID, Source: source}
			}

			recs, err := p.store.ListDerived(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tDATE\tAMOUNT\tMERCHANT\tCATEGORY\tVERIFIED\tTAGS")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
					r.ExternalID,
					r.Source.Source,
					r.Date.Format(flagDateFormat),
					model.FormatCents(r.AmountCents),
					r.Merchant,
					r.Enrichment.CategoryID,
					r.IsVerified,
					strings.Join(r.Enrichment.Tags, ","),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&uncategorized, "uncategorized", false, "only records without a category")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "only records derived from this source transaction")
	cmd.Flags().StringVar(&category, "category", "", "only records in this category")
	cmd.Flags().StringVar(&tag, "tag", "", "only records with this tag")
	cmd.Flags().StringVar(&from, "from", "", "first posting date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last posting date (YYYY-MM-DD)")

	return cmd
}

func newRecordsVerifyCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "verify <external-id>",
		Short: "Set a category by hand and mark the record verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			key, err := resolveRecord(cmd, p, args[0])
			if err != nil {
				return err
			}
			if err := p.store.Verify(cmd.Context(), key, category); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verified %s as %s\n", args[0], category)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "category id (required)")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func newRecordsCategorizeCommand() *cobra.Command {
	var category, modelName, version, method string

	cmd := &cobra.Command{
		Use:   "categorize <external-id>",
		Short: "Record an automated category assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if method == "" {
				method = p.cfg.Categorization.DefaultMethod
			}
			prov := model.Provenance{
				Method:       model.AssignmentMethod(method),
				Model:        modelName,
				ModelVersion: version,
			}
			key, err := resolveRecord(cmd, p, args[0])
			if err != nil {
				return err
			}
			err = p.store.Categorize(cmd.Context(), key, category, prov)
			if errors.Is(err, store.ErrVerified) {
				return fmt.Errorf("%s is verified; use 'records verify' to change it", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Categorized %s as %s\n", args[0], category)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "category id (required)")
	_ = cmd.MarkFlagRequired("category")
	cmd.Flags().StringVar(&modelName, "model", "", "name of the categorizer")
	cmd.Flags().StringVar(&version, "version", "", "categorizer version")
	cmd.Flags().StringVar(&method, "method", "", "assignment method (automated or migration)")

	return cmd
}

func newRecordsTagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag <external-id> [tags...]",
		Short: "Replace the tags of a record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			key, err := resolveRecord(cmd, p, args[0])
			if err != nil {
				return err
			}
			if err := p.store.SetTags(cmd.Context(), key, args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s: %s\n", args[0], strings.Join(args[1:], ", "))
			return nil
		},
	}
	return cmd
}

func newRecordsNoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note <external-id> <text>",
		Short: "Replace the notes of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			key, err := resolveRecord(cmd, p, args[0])
			if err != nil {
				return err
			}
			return p.store.SetNotes(cmd.Context(), key, args[1])
		},
	}
	return cmd
}

// resolveRecord finds the derived record id names, narrowed by --source.
func resolveRecord(cmd *cobra.Command, p *project, id string) (model.DerivedKey, error) {
	source, _ := cmd.Flags().GetString("source")
	key, err := p.store.ResolveDerived(cmd.Context(), id, source)
	if errors.Is(err, store.ErrAmbiguous) {
		return key, fmt.Errorf("%w; pass --source to pick one", err)
	}
	return key, err
}
