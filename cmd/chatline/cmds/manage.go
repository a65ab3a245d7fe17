package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			id, err := app.Controller.StartNew()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func NewRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			return app.Controller.Rename(args[0], strings.Join(args[1:], " "))
		},
	}
}

func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id...>",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			app.Controller.RestoreCurrent()
			for _, id := range args {
				if err := app.Controller.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func NewPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete conversations that never received a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			app.Controller.RestoreCurrent()
			pruned, err := app.Controller.PruneEmpty()
			if err != nil {
				return err
			}
			for _, id := range pruned {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
