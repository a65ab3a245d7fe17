package cmds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/chatline/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const printerFlushTimeout = 5 * time.Second

func NewSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			if format == "json" {
				return errors.New("send supports text and yaml output")
			}
			newConversation, _ := cmd.Flags().GetBool("new")
			conversationID, _ := cmd.Flags().GetString("conversation")

			router, err := events.NewEventRouter(events.WithVerbose(zerolog.GlobalLevel() <= zerolog.DebugLevel))
			if err != nil {
				return err
			}
			defer func() { _ = router.Close() }()
			printer := events.NewPrinter(cmd.OutOrStdout(), events.PrinterFormat(format))
			router.AddEventHandler("printer", events.TopicChat, printer)

			app, err := loadApp(router.NewSink(events.TopicChat))
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			text := strings.Join(args, " ")

			eg := errgroup.Group{}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			eg.Go(func() error {
				defer cancel()
				return router.Run(ctx)
			})

			eg.Go(func() error {
				defer cancel()
				<-router.Running()

				switch {
				case newConversation:
					if _, err := app.Controller.StartNew(); err != nil {
						return err
					}
				case conversationID != "":
					if res := app.Controller.Load(ctx, conversationID); !res.Found() {
						return res.Err
					}
				default:
					if _, err := app.Controller.Resume(ctx); err != nil {
						return err
					}
				}

				h, err := app.Controller.SendUserMessage(ctx, text)
				if err != nil {
					return err
				}
				res, err := h.Wait()

				// the router is stopped when this goroutine returns, so let the
				// printer catch up with the last event first
				select {
				case <-printer.Finished():
				case <-ctx.Done():
				case <-time.After(printerFlushTimeout):
					log.Warn().Msg("Timed out waiting for the reply to be printed")
				}

				if err != nil {
					return err
				}
				log.Debug().Str("conversation_id", res.ConversationID).Str("state", res.State.String()).Msg("Reply finished")
				if format == "text" {
					fmt.Fprintf(cmd.ErrOrStderr(), "(%s)\n", res.ConversationID)
				}
				return nil
			})

			return eg.Wait()
		},
	}
	cmd.Flags().Bool("new", false, "Start a new conversation")
	cmd.Flags().StringP("conversation", "c", "", "Send to this conversation")
	addOutputFlag(cmd)
	return cmd
}
