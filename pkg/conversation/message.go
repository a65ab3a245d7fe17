// Package conversation holds the persisted shape of a chat conversation.
//
// A Record is what the client caches per conversation id: an optional title and the
// chronological list of messages. Records are keyed by ids of the form conv_<unix-millis>,
// which also carry the creation time used to sort the conversation index.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-clone"
)

type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeBot    MessageType = "bot"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeUser, MessageTypeBot, MessageTypeSystem:
		return true
	default:
		return false
	}
}

// Message is a single entry of a conversation transcript.
// Timestamp is expressed in unix milliseconds to keep the persisted shape stable.
type Message struct {
	Type      MessageType `json:"type" yaml:"type"`
	Content   string      `json:"content" yaml:"content"`
	Timestamp int64       `json:"timestamp" yaml:"timestamp"`
}

func NewMessage(type_ MessageType, content string, options ...MessageOption) Message {
	ret := Message{
		Type:      type_,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

type MessageOption func(*Message)

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = t.UnixMilli()
	}
}

func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Type, strings.TrimRight(m.Content, "\n"))
}

// Record is the cached state of one conversation.
type Record struct {
	Title    string    `json:"title" yaml:"title"`
	Messages []Message `json:"messages" yaml:"messages"`
}

func NewRecord() *Record {
	return &Record{Messages: []Message{}}
}

// Append adds messages to the end of the transcript. Timestamps are clamped so that
// they never go backwards within a record.
func (r *Record) Append(msgs ...Message) {
	for _, m := range msgs {
		if n := len(r.Messages); n > 0 && m.Timestamp < r.Messages[n-1].Timestamp {
			m.Timestamp = r.Messages[n-1].Timestamp
		}
		r.Messages = append(r.Messages, m)
	}
}

// IsEmpty reports whether the record has no committed messages yet. Empty records
// are never listed in the conversation index.
func (r *Record) IsEmpty() bool {
	return r == nil || len(r.Messages) == 0
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return clone.Clone(r).(*Record)
}
