package stream

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// SentinelText terminates a stream.
const SentinelText = "[DONE]"

var ErrMalformedFrame = errors.New("malformed stream frame")

// Frame is one decoded unit of the chat stream: Sentinel, TextChunk or TitleEvent.
type Frame interface {
	isFrame()
}

type Sentinel struct{}

type TextChunk struct {
	Text string
}

type TitleEvent struct {
	Title string
}

func (Sentinel) isFrame()   {}
func (TextChunk) isFrame()  {}
func (TitleEvent) isFrame() {}

type controlPayload struct {
	Event string  `json:"event"`
	Title *string `json:"title"`
}

// DecodeFrame decodes a raw frame body. The literal [DONE] is the sentinel, a JSON
// string is a text chunk and {"event":"title","title":...} a title assignment.
// Anything else yields ErrMalformedFrame.
func DecodeFrame(b []byte) (Frame, error) {
	b = bytes.TrimSpace(b)
	if string(b) == SentinelText {
		return Sentinel{}, nil
	}
	if len(b) == 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "empty frame")
	}

	switch b[0] {
	case '"':
		var text string
		if err := json.Unmarshal(b, &text); err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		return TextChunk{Text: text}, nil
	case '{':
		var p controlPayload
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		if p.Event != "title" || p.Title == nil {
			return nil, errors.Wrapf(ErrMalformedFrame, "unknown control event %q", p.Event)
		}
		return TitleEvent{Title: *p.Title}, nil
	default:
		return nil, errors.Wrap(ErrMalformedFrame, "not a JSON string or object")
	}
}
