package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSettingsFromViperOverridesDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(strings.NewReader(`
store:
  driver: sqlite
  path: /tmp/chat.db
remote:
  base-url: https://chat.example.com
  timeout: 5s
  cache-remote-reads: true
`))
	require.NoError(t, err)

	s, err := NewSettingsFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, StoreDriverSQLite, s.Store.Driver)
	assert.Equal(t, "/tmp/chat.db", s.Store.Path)
	assert.Equal(t, "https://chat.example.com", s.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, s.Remote.Timeout)
	assert.True(t, s.Remote.CacheRemoteReads)
	assert.False(t, s.Remote.PropagateDeletes)
	assert.Equal(t, "dark", s.Render.Style)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	s := NewSettings()
	s.Store.Driver = "redis"
	require.Error(t, s.Validate())

	s = NewSettings()
	s.Store.Driver = StoreDriverMemory
	s.Store.Path = ""
	require.NoError(t, s.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSettings()
	c := s.Clone()
	c.Remote.BaseURL = "https://other"
	assert.NotEqual(t, s.Remote.BaseURL, c.Remote.BaseURL)
}
