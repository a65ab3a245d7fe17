package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/chatline/pkg/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJsonRestoresTypedEvents(t *testing.T) {
	md := NewMetadata("conv_1", "stream-1")

	b, err := json.Marshal(NewPartialCompletionEvent(md, "lo", "Hello", "<p>Hello</p>\n"))
	require.NoError(t, err)
	ev, err := NewEventFromJson(b)
	require.NoError(t, err)
	partial, ok := ev.(*EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "lo", partial.Delta)
	assert.Equal(t, "Hello", partial.Completion)
	assert.Equal(t, md, partial.Metadata())
	assert.Equal(t, b, partial.Payload())

	b, err = json.Marshal(NewIndexEvent(md, []index.Entry{{ID: "conv_1", Title: "t"}}, "conv_1"))
	require.NoError(t, err)
	ev, err = NewEventFromJson(b)
	require.NoError(t, err)
	idx, ok := ev.(*EventIndex)
	require.True(t, ok)
	require.Len(t, idx.Entries, 1)
	assert.Equal(t, "t", idx.Entries[0].Title)

	b, err = json.Marshal(NewErrorEvent(md, errors.New("boom"), "sorry"))
	require.NoError(t, err)
	ev, err = NewEventFromJson(b)
	require.NoError(t, err)
	errEv, ok := ev.(*EventError)
	require.True(t, ok)
	assert.Equal(t, "boom", errEv.ErrorString)
	assert.Equal(t, "sorry", errEv.Text)
}

func TestNewEventFromJsonRejectsGarbage(t *testing.T) {
	_, err := NewEventFromJson([]byte("not json"))
	require.Error(t, err)
}

func TestPublishEventToContext(t *testing.T) {
	a, b := NewCollectingSink(), NewCollectingSink()
	ctx := WithEventSinks(context.Background(), a)
	ctx = WithEventSinks(ctx, b)

	PublishEventToContext(ctx, NewNoticeEvent(NewMetadata("conv_1", ""), "hi"))
	PublishEventToContext(context.Background(), NewNoticeEvent(NewMetadata("conv_1", ""), "dropped"))

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.OfType(EventTypeNotice), 1)
}

type recordingHandler struct {
	mu      sync.Mutex
	deltas  []string
	titles  []string
	finals  chan string
	notices []string
}

func (r *recordingHandler) HandlePartialCompletion(_ context.Context, e *EventPartialCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, e.Delta)
	return nil
}

func (r *recordingHandler) HandleTitle(_ context.Context, e *EventTitle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, e.DisplayTitle)
	return nil
}

func (r *recordingHandler) HandleFinal(_ context.Context, e *EventFinal) error {
	r.finals <- e.Text
	return nil
}

func (r *recordingHandler) HandleError(context.Context, *EventError) error { return nil }

func (r *recordingHandler) HandleIndex(context.Context, *EventIndex) error { return nil }

func (r *recordingHandler) HandleNotice(_ context.Context, e *EventNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, e.Text)
	return nil
}

func TestEventRouterDispatchesToHandler(t *testing.T) {
	router, err := NewEventRouter(WithLogger(watermill.NopLogger{}))
	require.NoError(t, err)

	h := &recordingHandler{finals: make(chan string, 1)}
	router.AddEventHandler("test", TopicChat, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	sink := router.NewSink(TopicChat)
	md := NewMetadata("conv_1", "s")
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(md, "Hel", "Hel", "")))
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(md, "lo", "Hello", "")))
	require.NoError(t, sink.PublishEvent(NewTitleEvent(md, `"Greeting"`, "Greeting")))
	require.NoError(t, sink.PublishEvent(NewFinalEvent(md, "Hello")))

	select {
	case text := <-h.finals:
		assert.Equal(t, "Hello", text)
	case <-time.After(5 * time.Second):
		t.Fatal("final event not delivered")
	}

	h.mu.Lock()
	assert.Equal(t, []string{"Hel", "lo"}, h.deltas)
	assert.Equal(t, []string{"Greeting"}, h.titles)
	h.mu.Unlock()

	require.NoError(t, router.Close())
}

func publishTo(t *testing.T, handle func(msg *message.Message) error, evs ...Event) {
	t.Helper()
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, handle(message.NewMessage(watermill.NewUUID(), b)))
	}
}

func TestPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PrinterFormatText)
	md := NewMetadata("conv_1", "s")

	publishTo(t, dispatchHandler(p),
		NewIndexEvent(md, []index.Entry{{ID: "conv_1"}}, "conv_1"),
		NewPartialCompletionEvent(md, "Hel", "Hel", ""),
		NewPartialCompletionEvent(md, "lo", "Hello", ""),
	)
	select {
	case <-p.Finished():
		t.Fatal("finished before the final event")
	default:
	}

	publishTo(t, dispatchHandler(p), NewFinalEvent(md, "Hello"))
	assert.Equal(t, "Hello\n", buf.String())

	select {
	case <-p.Finished():
	default:
		t.Fatal("final event did not finish the printer")
	}
}

func TestPrinterErrorFinishes(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PrinterFormatText)
	md := NewMetadata("conv_1", "s")

	publishTo(t, dispatchHandler(p),
		NewPartialCompletionEvent(md, "Hel", "Hel", ""),
		NewErrorEvent(md, errors.New("reset"), "sorry"),
	)
	assert.Equal(t, "Hel\n[error] sorry\n", buf.String())
	select {
	case <-p.Finished():
	default:
		t.Fatal("error event did not finish the printer")
	}
}

func TestPrinterYAMLDumpsEvents(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PrinterFormatYAML)
	md := NewMetadata("conv_1", "s")

	publishTo(t, dispatchHandler(p), NewNoticeEvent(md, "gone"), NewFinalEvent(md, "done"))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "---\n"))
	assert.Contains(t, out, "text: gone")
	assert.Contains(t, out, "type: final")
}

func TestEventRouterPrintsWholeReplyBeforeFinish(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	var buf bytes.Buffer
	p := NewPrinter(&buf, PrinterFormatText)
	router.AddEventHandler("printer", TopicChat, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()

	sink := router.NewSink(TopicChat)
	md := NewMetadata("conv_1", "s")
	completion := ""
	for _, delta := range []string{"a", "b", "c", "d", "e"} {
		completion += delta
		require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(md, delta, completion, "")))
	}
	require.NoError(t, sink.PublishEvent(NewFinalEvent(md, completion)))

	select {
	case <-p.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("printer did not finish")
	}
	cancel()
	assert.Equal(t, "abcde\n", buf.String())
	require.NoError(t, router.Close())
}
