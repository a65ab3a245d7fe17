package settings

import (
	"os"
	"path/filepath"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverBolt   = "bolt"
	StoreDriverSQLite = "sqlite"
)

type StoreSettings struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the database file for the bolt and sqlite drivers.
	Path string `yaml:"path" mapstructure:"path"`
}

type RemoteSettings struct {
	BaseURL            string `yaml:"base-url" mapstructure:"base-url"`
	AllowHTTP          bool   `yaml:"allow-http" mapstructure:"allow-http"`
	AllowLocalNetworks bool   `yaml:"allow-local-networks" mapstructure:"allow-local-networks"`
	// Timeout bounds remote fetches. Zero means no timeout; streams are never bounded.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// CacheRemoteReads writes conversations resolved from the remote into the local store.
	CacheRemoteReads bool `yaml:"cache-remote-reads" mapstructure:"cache-remote-reads"`
	// PropagateDeletes also deletes conversations on the remote.
	PropagateDeletes bool `yaml:"propagate-deletes" mapstructure:"propagate-deletes"`
}

type RenderSettings struct {
	// Style is the glamour style used by the terminal renderer (dark, light, notty, ...).
	Style string `yaml:"style" mapstructure:"style"`
}

type Settings struct {
	Store  StoreSettings  `yaml:"store" mapstructure:"store"`
	Remote RemoteSettings `yaml:"remote" mapstructure:"remote"`
	Render RenderSettings `yaml:"render" mapstructure:"render"`
}

func DefaultStorePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".chatline", "conversations.db")
}

func NewSettings() *Settings {
	return &Settings{
		Store: StoreSettings{
			Driver: StoreDriverBolt,
			Path:   DefaultStorePath(),
		},
		Remote: RemoteSettings{
			BaseURL:            "http://localhost:8080",
			AllowHTTP:          true,
			AllowLocalNetworks: true,
		},
		Render: RenderSettings{
			Style: "dark",
		},
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) Validate() error {
	switch s.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverBolt, StoreDriverSQLite:
		if s.Store.Path == "" {
			return errors.Errorf("store driver %s requires store.path", s.Store.Driver)
		}
	default:
		return errors.Errorf("unknown store driver %q", s.Store.Driver)
	}
	if s.Remote.BaseURL == "" {
		return errors.New("remote.base-url is required")
	}
	if s.Remote.Timeout < 0 {
		return errors.New("remote.timeout must not be negative")
	}
	return nil
}

// AddFlags registers the settings as persistent flags, using the defaults of NewSettings.
func AddFlags(flags *pflag.FlagSet) {
	d := NewSettings()
	flags.String("store.driver", d.Store.Driver, "Conversation store driver (memory, bolt, sqlite)")
	flags.String("store.path", d.Store.Path, "Conversation store database file")
	flags.String("remote.base-url", d.Remote.BaseURL, "Base URL of the chat server")
	flags.Bool("remote.allow-http", d.Remote.AllowHTTP, "Allow plain http base URLs")
	flags.Bool("remote.allow-local-networks", d.Remote.AllowLocalNetworks, "Allow loopback and private network base URLs")
	flags.Duration("remote.timeout", d.Remote.Timeout, "Timeout for conversation fetches (0 = none)")
	flags.Bool("remote.cache-remote-reads", d.Remote.CacheRemoteReads, "Cache conversations loaded from the server")
	flags.Bool("remote.propagate-deletes", d.Remote.PropagateDeletes, "Also delete conversations on the server")
	flags.String("render.style", d.Render.Style, "Terminal rendering style")
}

// NewSettingsFromViper decodes the settings from a viper instance on top of the defaults.
func NewSettingsFromViper(v *viper.Viper) (*Settings, error) {
	ret := NewSettings()
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
