// Package index derives the ordered listing of conversations shown to the user.
package index

import (
	"sort"
	"time"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/pkg/errors"
)

type Entry struct {
	ID      string    `json:"id" yaml:"id"`
	Title   string    `json:"title" yaml:"title"`
	Created time.Time `json:"created" yaml:"created"`
	Active  bool      `json:"active" yaml:"active"`
}

// Reader is the part of the record store the index reads from.
type Reader interface {
	ListIDs() ([]string, error)
	Get(id string) (*conversation.Record, bool)
}

type Index struct {
	reader Reader
	format conversation.TitleFormatter
}

type Option func(*Index)

func WithTitleFormatter(f conversation.TitleFormatter) Option {
	return func(i *Index) {
		i.format = f
	}
}

// WithLocation renders fallback titles in loc.
func WithLocation(loc *time.Location) Option {
	return func(i *Index) {
		i.format = conversation.DefaultTitleFormatter(loc)
	}
}

func New(reader Reader, options ...Option) *Index {
	ret := &Index{
		reader: reader,
		format: conversation.DefaultTitleFormatter(nil),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Rebuild recomputes the full listing: conversations with at least one message,
// newest first. Equal creation times are ordered by descending id. active marks
// the entry of the current conversation, if listed.
func (i *Index) Rebuild(active string) ([]Entry, error) {
	ids, err := i.reader.ListIDs()
	if err != nil {
		return nil, errors.Wrap(err, "could not rebuild conversation index")
	}

	ret := make([]Entry, 0, len(ids))
	for _, id := range ids {
		created, ok := conversation.ParseID(id)
		if !ok {
			continue
		}
		rec, ok := i.reader.Get(id)
		if !ok || rec.IsEmpty() {
			continue
		}
		ret = append(ret, Entry{
			ID:      id,
			Title:   conversation.DisplayTitle(rec.Title, created, i.format),
			Created: created,
			Active:  id == active,
		})
	}

	sort.SliceStable(ret, func(a, b int) bool {
		if !ret[a].Created.Equal(ret[b].Created) {
			return ret[a].Created.After(ret[b].Created)
		}
		return ret[a].ID > ret[b].ID
	})
	return ret, nil
}
