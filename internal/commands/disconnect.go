package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDisconnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect <item-ref>",
		Short: "Remove an institution connection with all of its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			n, err := p.store.DeleteConnection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed connection %s and %d source records\n", args[0], n)
			return nil
		},
	}
	return cmd
}
