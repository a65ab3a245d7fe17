package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			app.Controller.RestoreCurrent()
			entries, err := app.Controller.Index()
			if err != nil {
				return err
			}

			if format != "text" {
				return writeStructured(cmd.OutOrStdout(), format, entries)
			}
			for _, e := range entries {
				marker := " "
				if e.Active {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s\n", marker, e.ID, e.Title)
			}
			return nil
		},
	}
	addOutputFlag(cmd)
	return cmd
}
