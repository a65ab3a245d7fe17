package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGeneratorIsStrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := NewIDGenerator(WithClock(func() time.Time { return fixed }))

	a := g.Next()
	b := g.Next()
	c := g.Next()

	assert.Equal(t, "conv_1700000000000", a)
	assert.Equal(t, "conv_1700000000001", b)
	assert.Equal(t, "conv_1700000000002", c)
}

func TestParseID(t *testing.T) {
	ts, ok := ParseID("conv_1700000000123")
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_000_123), ts.UnixMilli())

	for _, key := range []string{"lastConversationId", "theme", "conv_", "conv_abc", "conv_-5", "xconv_12"} {
		_, ok := ParseID(key)
		assert.False(t, ok, key)
	}
}

func TestDisplayTitle(t *testing.T) {
	created := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	format := DefaultTitleFormatter(time.UTC)

	assert.Equal(t, "Greeting", DisplayTitle(`"Greeting"`, created, format))
	assert.Equal(t, `Say "hi" twice`, DisplayTitle(`"Say "hi" twice"`, created, format))
	assert.Equal(t, "Trimmed", DisplayTitle("  Trimmed \n", created, format))
	assert.Equal(t, "Conversation 3/5/2024, 2:07:09 PM", DisplayTitle("", created, format))
	assert.Equal(t, "Conversation 3/5/2024, 2:07:09 PM", DisplayTitle(`""`, created, format))
	assert.Equal(t, "Conversation 3/5/2024, 2:07:09 PM", DisplayTitle(`" "`, created, format))
}

func TestRecordAppendKeepsTimestampsMonotonic(t *testing.T) {
	r := NewRecord()
	r.Append(Message{Type: MessageTypeUser, Content: "a", Timestamp: 200})
	r.Append(Message{Type: MessageTypeBot, Content: "b", Timestamp: 100})

	require.Len(t, r.Messages, 2)
	assert.Equal(t, int64(200), r.Messages[1].Timestamp)
}

func TestRecordJSONShape(t *testing.T) {
	r := &Record{
		Title:    "t",
		Messages: []Message{{Type: MessageTypeUser, Content: "hello", Timestamp: 42}},
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"t","messages":[{"type":"user","content":"hello","timestamp":42}]}`, string(b))
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := &Record{Messages: []Message{{Type: MessageTypeUser, Content: "hello"}}}
	c := r.Clone()
	c.Messages[0].Content = "mutated"
	c.Title = "x"

	assert.Equal(t, "hello", r.Messages[0].Content)
	assert.Equal(t, "", r.Title)
}
