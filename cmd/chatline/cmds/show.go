package cmds

import (
	"fmt"
	"os"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/go-go-golems/chatline/pkg/render"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type transcript struct {
	ID       string                 `json:"id" yaml:"id"`
	Title    string                 `json:"title" yaml:"title"`
	Source   string                 `json:"source" yaml:"source"`
	Messages []conversation.Message `json:"messages" yaml:"messages"`
}

func NewShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a conversation transcript (defaults to the last active one)",
		Args:  cobra.MaximumNArgs(1),
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

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				var ok bool
				if id, ok = app.Store.LastActive(); !ok {
					return errors.New("no active conversation, pass an id")
				}
			}

			res := app.Controller.Load(cmd.Context(), id)
			if !res.Found() {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Notice.Content)
				return res.Err
			}

			if format != "text" {
				return writeStructured(cmd.OutOrStdout(), format, transcript{
					ID:       id,
					Title:    res.Title,
					Source:   string(res.Source),
					Messages: res.Messages,
				})
			}

			style := app.Settings.Render.Style
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				style = "notty"
			}
			term, err := render.NewTerminal(style, 100)
			if err != nil {
				return err
			}
			created, _ := conversation.ParseID(id)
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n", conversation.DisplayTitle(res.Title, created, nil))
			fmt.Fprint(cmd.OutOrStdout(), render.Transcript(term, &conversation.Record{
				Title:    res.Title,
				Messages: res.Messages,
			}))
			return nil
		},
	}
	addOutputFlag(cmd)
	return cmd
}
