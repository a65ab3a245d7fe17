package events

import (
	"encoding/json"

	"github.com/go-go-golems/chatline/pkg/index"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypePartialCompletion is emitted for every text chunk of a streamed reply.
	EventTypePartialCompletion EventType = "partial"
	EventTypeTitle             EventType = "title"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"

	// EventTypeIndex carries the rebuilt conversation index after a mutation.
	EventTypeIndex EventType = "index"
	// EventTypeNotice carries a user visible system notice (load failures).
	EventTypeNotice EventType = "notice"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata is passed along with every event.
type EventMetadata struct {
	ID             uuid.UUID `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty" mapstructure:"conversation_id"`
	// StreamID identifies one send/receive cycle.
	StreamID string `json:"stream_id,omitempty" yaml:"stream_id,omitempty" mapstructure:"stream_id"`
}

func NewMetadata(conversationID string, streamID string) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
		StreamID:       streamID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.StreamID != "" {
		e.Str("stream_id", em.StreamID)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw payload when decoded with NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the full accumulated text so far.
	Completion string `json:"completion"`
	// Rendered is the sanitized markup of Completion.
	Rendered string `json:"rendered,omitempty"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string, rendered string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
		Rendered:   rendered,
	}
}

var _ Event = &EventPartialCompletion{}

type EventTitle struct {
	EventImpl
	// Title is the raw title as sent by the server.
	Title string `json:"title"`
	// DisplayTitle is the label to show after cleanup and fallback.
	DisplayTitle string `json:"display_title"`
}

func NewTitleEvent(metadata EventMetadata, title string, displayTitle string) *EventTitle {
	return &EventTitle{
		EventImpl: EventImpl{
			Type_:     EventTypeTitle,
			Metadata_: metadata,
		},
		Title:        title,
		DisplayTitle: displayTitle,
	}
}

var _ Event = &EventTitle{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	// Text is the failure message committed to the transcript.
	Text string `json:"text"`
}

func NewErrorEvent(metadata EventMetadata, err error, text string) *EventError {
	errString := ""
	if err != nil {
		errString = err.Error()
	}
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: errString,
		Text:        text,
	}
}

var _ Event = &EventError{}

type EventIndex struct {
	EventImpl
	Entries []index.Entry `json:"entries"`
	Current string        `json:"current,omitempty"`
}

func NewIndexEvent(metadata EventMetadata, entries []index.Entry, current string) *EventIndex {
	return &EventIndex{
		EventImpl: EventImpl{
			Type_:     EventTypeIndex,
			Metadata_: metadata,
		},
		Entries: entries,
		Current: current,
	}
}

var _ Event = &EventIndex{}

type EventNotice struct {
	EventImpl
	Text string `json:"text"`
}

func NewNoticeEvent(metadata EventMetadata, text string) *EventNotice {
	return &EventNotice{
		EventImpl: EventImpl{
			Type_:     EventTypeNotice,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventNotice{}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil || ret == nil {
		return nil, false
	}
	return ret, true
}

// NewEventFromJson decodes a serialized event back into its typed form.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}
	if e == nil {
		return nil, errors.New("empty event")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypePartialCompletion:
		ret, ok := ToTypedEvent[EventPartialCompletion](e)
		if !ok {
			return nil, errors.New("could not cast event to EventPartialCompletion")
		}
		ret.payload = b
		return ret, nil
	case EventTypeTitle:
		ret, ok := ToTypedEvent[EventTitle](e)
		if !ok {
			return nil, errors.New("could not cast event to EventTitle")
		}
		ret.payload = b
		return ret, nil
	case EventTypeFinal:
		ret, ok := ToTypedEvent[EventFinal](e)
		if !ok {
			return nil, errors.New("could not cast event to EventFinal")
		}
		ret.payload = b
		return ret, nil
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](e)
		if !ok {
			return nil, errors.New("could not cast event to EventError")
		}
		ret.payload = b
		return ret, nil
	case EventTypeIndex:
		ret, ok := ToTypedEvent[EventIndex](e)
		if !ok {
			return nil, errors.New("could not cast event to EventIndex")
		}
		ret.payload = b
		return ret, nil
	case EventTypeNotice:
		ret, ok := ToTypedEvent[EventNotice](e)
		if !ok {
			return nil, errors.New("could not cast event to EventNotice")
		}
		ret.payload = b
		return ret, nil
	}

	return e, nil
}
