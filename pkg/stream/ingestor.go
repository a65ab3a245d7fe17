// Package stream merges a server-pushed chat stream into a single bot message.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/go-go-golems/chatline/pkg/events"
	"github.com/go-go-golems/chatline/pkg/render"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FailureText is committed as the bot reply when the stream fails.
const FailureText = "Sorry, there was an error processing your request."

// Source yields raw frame bodies in arrival order. Next returns io.EOF once the
// stream has ended.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Recorder is the read-modify-write entry point of the record store.
type Recorder interface {
	Update(id string, fn func(rec *conversation.Record) error) error
}

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes how an ingestion ended.
type Result struct {
	ConversationID string
	State          State
	// Message is the committed bot message. It is nil when nothing was committed,
	// e.g. for a reply that completed without any text.
	Message *conversation.Message
	// Title is the last title received during the stream.
	Title string
	Err   error
}

// Ingestor consumes one stream for one outgoing message. The conversation id is
// fixed at construction and every commit targets it.
type Ingestor struct {
	conversationID string
	streamID       string
	recorder       Recorder
	renderer       render.Renderer
	sinks          []events.EventSink
	format         conversation.TitleFormatter
	now            func() time.Time

	mu    sync.Mutex
	state State
	acc   strings.Builder
	title string
}

type Option func(*Ingestor)

func WithRenderer(r render.Renderer) Option {
	return func(i *Ingestor) {
		i.renderer = r
	}
}

func WithSinks(sinks ...events.EventSink) Option {
	return func(i *Ingestor) {
		i.sinks = append(i.sinks, sinks...)
	}
}

func WithTitleFormatter(f conversation.TitleFormatter) Option {
	return func(i *Ingestor) {
		i.format = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		i.now = now
	}
}

func WithStreamID(id string) Option {
	return func(i *Ingestor) {
		i.streamID = id
	}
}

func NewIngestor(conversationID string, recorder Recorder, options ...Option) *Ingestor {
	ret := &Ingestor{
		conversationID: conversationID,
		streamID:       uuid.NewString(),
		recorder:       recorder,
		renderer:       render.NewMarkdown(),
		format:         conversation.DefaultTitleFormatter(nil),
		now:            time.Now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (i *Ingestor) ConversationID() string {
	return i.conversationID
}

func (i *Ingestor) StreamID() string {
	return i.streamID
}

func (i *Ingestor) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Accumulated returns the text received so far.
func (i *Ingestor) Accumulated() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.acc.String()
}

func (i *Ingestor) metadata() events.EventMetadata {
	return events.NewMetadata(i.conversationID, i.streamID)
}

func (i *Ingestor) publish(ctx context.Context, ev events.Event) {
	events.PublishToSinks(i.sinks, ev)
	events.PublishEventToContext(ctx, ev)
}

// Run drives the stream to a terminal state and closes src. It returns the error
// that made the stream fail; the failure reply has already been committed by then.
func (i *Ingestor) Run(ctx context.Context, src Source) (*Result, error) {
	i.mu.Lock()
	if i.state != StateIdle {
		i.mu.Unlock()
		return nil, errors.Errorf("ingestor for %s already ran", i.conversationID)
	}
	i.state = StateStreaming
	i.mu.Unlock()

	defer func() {
		if err := src.Close(); err != nil {
			log.Debug().Err(err).Str("conversation_id", i.conversationID).Msg("Error closing stream")
		}
	}()

	log.Debug().Str("conversation_id", i.conversationID).Str("stream_id", i.streamID).Msg("Streaming reply")

	for {
		raw, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return i.fail(ctx, errors.Wrap(err, "stream failed"))
		}

		frame, err := DecodeFrame(raw)
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", i.conversationID).Bytes("frame", raw).Msg("Ignoring malformed frame")
			continue
		}

		switch f := frame.(type) {
		case Sentinel:
			return i.complete(ctx)
		case TextChunk:
			i.appendChunk(ctx, f.Text)
		case TitleEvent:
			if err := i.assignTitle(ctx, f.Title); err != nil {
				log.Error().Err(err).Str("conversation_id", i.conversationID).Msg("Could not store title")
			}
		}
	}
}

func (i *Ingestor) appendChunk(ctx context.Context, text string) {
	i.mu.Lock()
	i.acc.WriteString(text)
	completion := i.acc.String()
	i.mu.Unlock()

	rendered := ""
	if i.renderer != nil {
		rendered = i.renderer.Render(completion)
	}
	i.publish(ctx, events.NewPartialCompletionEvent(i.metadata(), text, completion, rendered))
}

// assignTitle stores a server title and marks the change with an empty system
// message. An empty title keeps whatever title the record already has.
func (i *Ingestor) assignTitle(ctx context.Context, title string) error {
	ts := i.now().UnixMilli()
	stored := title
	err := i.recorder.Update(i.conversationID, func(rec *conversation.Record) error {
		if title != "" {
			rec.Title = title
		}
		stored = rec.Title
		rec.Append(conversation.Message{
			Type:      conversation.MessageTypeSystem,
			Content:   "",
			Timestamp: ts,
		})
		return nil
	})
	if err != nil {
		return err
	}

	if title != "" {
		i.mu.Lock()
		i.title = title
		i.mu.Unlock()
	}

	created, _ := conversation.ParseID(i.conversationID)
	display := conversation.DisplayTitle(stored, created, i.format)
	i.publish(ctx, events.NewTitleEvent(i.metadata(), title, display))
	return nil
}

func (i *Ingestor) commit(content string) (*conversation.Message, error) {
	msg := conversation.Message{
		Type:      conversation.MessageTypeBot,
		Content:   content,
		Timestamp: i.now().UnixMilli(),
	}
	err := i.recorder.Update(i.conversationID, func(rec *conversation.Record) error {
		rec.Append(msg)
		msg = rec.Messages[len(rec.Messages)-1]
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not commit reply to %s", i.conversationID)
	}
	return &msg, nil
}

func (i *Ingestor) result(state State, msg *conversation.Message, err error) *Result {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	return &Result{
		ConversationID: i.conversationID,
		State:          state,
		Message:        msg,
		Title:          i.title,
		Err:            err,
	}
}

func (i *Ingestor) complete(ctx context.Context) (*Result, error) {
	text := i.Accumulated()
	if text == "" {
		// bot messages are never stored without content
		log.Debug().Str("conversation_id", i.conversationID).Msg("Reply completed without content")
		i.publish(ctx, events.NewFinalEvent(i.metadata(), text))
		return i.result(StateCompleted, nil, nil), nil
	}

	msg, err := i.commit(text)
	if err != nil {
		log.Error().Err(err).Msg("Could not commit completed reply")
		i.publish(ctx, events.NewErrorEvent(i.metadata(), err, text))
		return i.result(StateFailed, nil, err), err
	}

	log.Debug().Str("conversation_id", i.conversationID).Int("length", len(text)).Msg("Reply completed")
	i.publish(ctx, events.NewFinalEvent(i.metadata(), text))
	return i.result(StateCompleted, msg, nil), nil
}

func (i *Ingestor) fail(ctx context.Context, cause error) (*Result, error) {
	log.Warn().Err(cause).Str("conversation_id", i.conversationID).Msg("Reply stream failed")

	msg, err := i.commit(FailureText)
	if err != nil {
		log.Error().Err(err).Msg("Could not commit failure reply")
		cause = errors.Wrap(cause, err.Error())
	}
	i.publish(ctx, events.NewErrorEvent(i.metadata(), cause, FailureText))
	return i.result(StateFailed, msg, cause), cause
}
