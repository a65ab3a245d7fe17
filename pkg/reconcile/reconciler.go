// Package reconcile resolves a conversation between the local store and the server.
package reconcile

import (
	"context"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/go-go-golems/chatline/pkg/remote"
	"github.com/go-go-golems/chatline/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	NotFoundText = "This conversation could not be found. It may have been deleted."
	FailedText   = "Failed to load conversation. Please try again later."
)

type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not-found"
	OutcomeFailed   Outcome = "failed"
)

// Fetcher loads a conversation from the server. It returns remote.ErrNotFound when
// the server confirms the conversation does not exist.
type Fetcher interface {
	FetchConversation(ctx context.Context, id string) (*remote.Conversation, error)
}

type Resolution struct {
	ID       string
	Messages []conversation.Message
	// Title is only set for conversations found locally or remotely.
	Title   string
	Source  Source
	Outcome Outcome
	// Notice is the system message to show for the NotFound and Failed outcomes.
	Notice *conversation.Message
	Err    error
}

func (r Resolution) Found() bool {
	return r.Outcome == OutcomeFound
}

type Reconciler struct {
	store   *store.RecordStore
	fetcher Fetcher

	cacheRemoteReads bool
	group            singleflight.Group
}

type Option func(*Reconciler)

// WithCacheRemoteReads stores conversations resolved from the server locally.
func WithCacheRemoteReads(b bool) Option {
	return func(r *Reconciler) {
		r.cacheRemoteReads = b
	}
}

func New(s *store.RecordStore, fetcher Fetcher, options ...Option) *Reconciler {
	ret := &Reconciler{
		store:   s,
		fetcher: fetcher,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Resolve returns the messages of id. A local record always wins and no network
// call is made. Otherwise the server is asked: a confirmed absence evicts any local
// trace of id, other failures leave local state alone. Failures are reported in
// the resolution, never as errors.
func (r *Reconciler) Resolve(ctx context.Context, id string) Resolution {
	if rec, ok := r.store.Get(id); ok {
		log.Debug().Str("id", id).Msg("Conversation resolved from cache")
		return Resolution{
			ID:       id,
			Messages: rec.Messages,
			Title:    rec.Title,
			Source:   SourceCache,
			Outcome:  OutcomeFound,
		}
	}

	if r.fetcher == nil {
		return r.failed(id, errors.New("no remote configured"))
	}

	v, err, shared := r.group.Do(id, func() (interface{}, error) {
		return r.fetcher.FetchConversation(ctx, id)
	})
	if shared {
		log.Debug().Str("id", id).Msg("Shared in-flight conversation fetch")
	}

	switch {
	case errors.Is(err, remote.ErrNotFound):
		log.Info().Str("id", id).Msg("Conversation not found on server, evicting local copy")
		if err := r.store.Delete(id); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Could not evict conversation")
		}
		notice := conversation.NewMessage(conversation.MessageTypeSystem, NotFoundText)
		return Resolution{
			ID:      id,
			Source:  SourceRemote,
			Outcome: OutcomeNotFound,
			Notice:  &notice,
			Err:     err,
		}
	case err != nil:
		return r.failed(id, err)
	}

	conv := v.(*remote.Conversation)
	messages := append([]conversation.Message{}, conv.Messages...)
	if r.cacheRemoteReads {
		r.writeBack(id, conv)
	}
	return Resolution{
		ID:       id,
		Messages: messages,
		Title:    conv.Title,
		Source:   SourceRemote,
		Outcome:  OutcomeFound,
	}
}

func (r *Reconciler) failed(id string, err error) Resolution {
	log.Warn().Err(err).Str("id", id).Msg("Could not load conversation")
	notice := conversation.NewMessage(conversation.MessageTypeSystem, FailedText)
	return Resolution{
		ID:      id,
		Source:  SourceRemote,
		Outcome: OutcomeFailed,
		Notice:  &notice,
		Err:     err,
	}
}

func (r *Reconciler) writeBack(id string, conv *remote.Conversation) {
	err := r.store.Update(id, func(rec *conversation.Record) error {
		// a local record written meanwhile wins
		if !rec.IsEmpty() {
			return nil
		}
		rec.Title = conv.Title
		rec.Append(conv.Messages...)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Could not cache remote conversation")
	}
}
