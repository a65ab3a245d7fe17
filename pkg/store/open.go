package store

import (
	"github.com/go-go-golems/chatline/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OpenKV opens the key/value backend selected by the store settings.
func OpenKV(s settings.StoreSettings) (KV, error) {
	log.Debug().Str("driver", s.Driver).Str("path", s.Path).Msg("Opening conversation store")
	switch s.Driver {
	case settings.StoreDriverMemory:
		return NewMemoryKV(), nil
	case settings.StoreDriverBolt, "":
		return NewBoltKV(s.Path)
	case settings.StoreDriverSQLite:
		return NewSQLiteKV(s.Path)
	default:
		return nil, errors.Errorf("unknown store driver %q", s.Driver)
	}
}

func Open(s settings.StoreSettings) (*RecordStore, error) {
	kv, err := OpenKV(s)
	if err != nil {
		return nil, err
	}
	return NewRecordStore(kv), nil
}
