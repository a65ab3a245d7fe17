// Package store persists conversation records on top of a string-keyed
// key/value area (memory, bbolt or sqlite).
package store

import (
	"encoding/json"
	"sort"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LastActiveKey holds the id of the most recently active conversation.
const LastActiveKey = "lastConversationId"

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrInvalidID = errors.New("invalid conversation id")
)

// RecordStore reads and writes whole conversation records. Read-modify-write
// sequences go through Update, which serializes callers per conversation id.
type RecordStore struct {
	kv    KV
	locks *keyedMutex
}

func NewRecordStore(kv KV) *RecordStore {
	return &RecordStore{
		kv:    kv,
		locks: newKeyedMutex(),
	}
}

// Get returns the record stored under id. Unreadable or corrupt records are
// logged and reported as absent.
func (s *RecordStore) Get(id string) (*conversation.Record, bool) {
	raw, ok, err := s.kv.Get(id)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Could not read conversation record")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	rec := &conversation.Record{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Skipping corrupt conversation record")
		return nil, false
	}
	if rec.Messages == nil {
		rec.Messages = []conversation.Message{}
	}
	return rec, true
}

// Put overwrites the whole record stored under id.
func (s *RecordStore) Put(id string, rec *conversation.Record) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.put(id, rec)
}

func (s *RecordStore) put(id string, rec *conversation.Record) error {
	if !conversation.IsID(id) {
		return errors.Wrapf(ErrInvalidID, "%q", id)
	}
	if rec == nil {
		rec = conversation.NewRecord()
	}
	if rec.Messages == nil {
		rec.Messages = []conversation.Message{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "could not encode conversation %s", id)
	}
	return s.kv.Set(id, string(b))
}

// Delete removes the record entirely. Deleting an absent id is not an error.
func (s *RecordStore) Delete(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.kv.Remove(id)
}

// Has reports whether a readable record exists for id.
func (s *RecordStore) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// ListIDs returns the ids of all keys in the conversation namespace, sorted.
func (s *RecordStore) ListIDs() ([]string, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		return nil, errors.Wrap(err, "could not list conversations")
	}
	ret := make([]string, 0, len(keys))
	for _, k := range keys {
		if conversation.IsID(k) {
			ret = append(ret, k)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

// Update runs fn on the current record (a fresh empty record when absent) and
// persists the result. Concurrent updates of the same id are serialized.
func (s *RecordStore) Update(id string, fn func(rec *conversation.Record) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, ok := s.Get(id)
	if !ok {
		rec = conversation.NewRecord()
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.put(id, rec)
}

// UpdateExisting is Update for records that must already exist.
func (s *RecordStore) UpdateExisting(id string, fn func(rec *conversation.Record) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, ok := s.Get(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.put(id, rec)
}

func (s *RecordStore) LastActive() (string, bool) {
	id, ok, err := s.kv.Get(LastActiveKey)
	if err != nil {
		log.Error().Err(err).Msg("Could not read last active conversation")
		return "", false
	}
	if !ok || !conversation.IsID(id) {
		return "", false
	}
	return id, true
}

func (s *RecordStore) SetLastActive(id string) error {
	if !conversation.IsID(id) {
		return errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return s.kv.Set(LastActiveKey, id)
}

func (s *RecordStore) ClearLastActive() error {
	return s.kv.Remove(LastActiveKey)
}

func (s *RecordStore) Close() error {
	return s.kv.Close()
}
