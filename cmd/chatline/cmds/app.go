// Package cmds holds the chatline cobra commands.
package cmds

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-go-golems/chatline/pkg/events"
	"github.com/go-go-golems/chatline/pkg/reconcile"
	"github.com/go-go-golems/chatline/pkg/remote"
	"github.com/go-go-golems/chatline/pkg/session"
	"github.com/go-go-golems/chatline/pkg/settings"
	"github.com/go-go-golems/chatline/pkg/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// App is the wired engine used by every command.
type App struct {
	Settings   *settings.Settings
	Store      *store.RecordStore
	Client     *remote.Client
	Controller *session.Controller
}

func NewApp(s *settings.Settings, sinks ...events.EventSink) (*App, error) {
	recordStore, err := store.Open(s.Store)
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(s.Remote.BaseURL, remote.URLOptions{
		AllowHTTP:          s.Remote.AllowHTTP,
		AllowLocalNetworks: s.Remote.AllowLocalNetworks,
	}, remote.WithTimeout(s.Remote.Timeout))
	if err != nil {
		_ = recordStore.Close()
		return nil, err
	}

	options := []session.Option{
		session.WithReconciler(reconcile.New(recordStore, client, reconcile.WithCacheRemoteReads(s.Remote.CacheRemoteReads))),
		session.WithStreamer(session.NewRemoteStreamer(client)),
		session.WithSinks(sinks...),
	}
	if s.Remote.PropagateDeletes {
		options = append(options, session.WithRemoteDeleter(client))
	}

	return &App{
		Settings:   s,
		Store:      recordStore,
		Client:     client,
		Controller: session.NewController(recordStore, options...),
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

func loadApp(sinks ...events.EventSink) (*App, error) {
	s, err := settings.NewSettingsFromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return NewApp(s, sinks...)
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "text", "Output format (text, yaml, json)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", err
	}
	switch format {
	case "text", "yaml", "json":
		return format, nil
	default:
		return "", errors.Errorf("unknown output format %q", format)
	}
}

// writeStructured writes v as yaml or json.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	default:
		return errors.Errorf("unsupported structured format %q", format)
	}
}

func Register(rootCmd *cobra.Command) {
	rootCmd.AddCommand(
		NewListCommand(),
		NewShowCommand(),
		NewSendCommand(),
		NewNewCommand(),
		NewRenameCommand(),
		NewDeleteCommand(),
		NewPruneCommand(),
	)
}
