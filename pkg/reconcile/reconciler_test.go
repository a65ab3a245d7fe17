package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/go-go-golems/chatline/pkg/remote"
	"github.com/go-go-golems/chatline/pkg/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   atomic.Int32
	conv    *remote.Conversation
	err     error
	release chan struct{}
}

func (f *fakeFetcher) FetchConversation(ctx context.Context, id string) (*remote.Conversation, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.conv, nil
}

func remoteConv(id string) *remote.Conversation {
	return &remote.Conversation{
		ID:    id,
		Title: "Remote",
		Messages: []conversation.Message{
			{Type: conversation.MessageTypeUser, Content: "q", Timestamp: 1},
			{Type: conversation.MessageTypeBot, Content: "a", Timestamp: 1},
		},
	}
}

func TestResolveCacheHitDoesNotFetch(t *testing.T) {
	s := store.NewRecordStore(store.NewMemoryKV())
	require.NoError(t, s.Put("conv_1", &conversation.Record{Title: "Local", Messages: []conversation.Message{
		{Type: conversation.MessageTypeUser, Content: "local"},
	}}))
	f := &fakeFetcher{conv: remoteConv("conv_1")}

	res := New(s, f).Resolve(context.Background(), "conv_1")
	assert.Equal(t, OutcomeFound, res.Outcome)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "local", res.Messages[0].Content)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestResolveCachedEmptyRecordIsStillLocal(t *testing.T) {
	s := store.NewRecordStore(store.NewMemoryKV())
	require.NoError(t, s.Put("conv_1", conversation.NewRecord()))
	f := &fakeFetcher{conv: remoteConv("conv_1")}

	res := New(s, f).Resolve(context.Background(), "conv_1")
	assert.Equal(t, SourceCache, res.Source)
	assert.Empty(t, res.Messages)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestResolveRemoteWithoutWriteBack(t *testing.T) {
	s := store.NewRecordStore(store.NewMemoryKV())
	f := &fakeFetcher{conv: remoteConv("conv_1")}

	res := New(s, f).Resolve(context.Background(), "conv_1")
	assert.True(t, res.Found())
	assert.Equal(t, SourceRemote, res.Source)
	assert.Len(t, res.Messages, 2)
	assert.Nil(t, res.Notice)
	assert.False(t, s.Has("conv_1"))
}

func TestResolveRemoteWithWriteBack(t *testing.T) {
	s := store.NewRecordStore(store.NewMemoryKV())
	f := &fakeFetcher{conv: remoteConv("conv_1")}
	r := New(s, f, WithCacheRemoteReads(true))

	res := r.Resolve(context.Background(), "conv_1")
	assert.Equal(t, SourceRemote, res.Source)

	rec, ok := s.Get("conv_1")
	require.True(t, ok)
	assert.Equal(t, "Remote", rec.Title)
	assert.Len(t, rec.Messages, 2)

	res = r.Resolve(context.Background(), "conv_1")
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestResolveNotFoundEvicts(t *testing.T) {
	kv := store.NewMemoryKV()
	s := store.NewRecordStore(kv)
	// a corrupt local trace reads as absent and must be gone afterwards
	require.NoError(t, kv.Set("conv_1", "{broken"))
	f := &fakeFetcher{err: errors.Wrap(remote.ErrNotFound, "conv_1")}

	res := New(s, f).Resolve(context.Background(), "conv_1")
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	require.NotNil(t, res.Notice)
	assert.Equal(t, NotFoundText, res.Notice.Content)
	assert.Equal(t, conversation.MessageTypeSystem, res.Notice.Type)

	_, present, err := kv.Get("conv_1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestResolveFailureKeepsLocalState(t *testing.T) {
	kv := store.NewMemoryKV()
	s := store.NewRecordStore(kv)
	require.NoError(t, kv.Set("conv_1", "{broken"))
	f := &fakeFetcher{err: &remote.StatusError{StatusCode: 500}}

	res := New(s, f).Resolve(context.Background(), "conv_1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Notice)
	assert.Equal(t, FailedText, res.Notice.Content)

	_, present, err := kv.Get("conv_1")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestResolveWithoutFetcherFails(t *testing.T) {
	s := store.NewRecordStore(store.NewMemoryKV())
	res := New(s, nil).Resolve(context.Background(), "conv_1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestConcurrentResolvesShareOneFetch(t *testing.T) {
	s := store.NewRecordStore(store.NewMemoryKV())
	f := &fakeFetcher{conv: remoteConv("conv_1"), release: make(chan struct{})}
	r := New(s, f)

	const n = 5
	var wg sync.WaitGroup
	results := make([]Resolution, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), "conv_1")
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.LessOrEqual(t, f.calls.Load(), int32(n))
	for _, res := range results {
		assert.True(t, res.Found())
		assert.Len(t, res.Messages, 2)
	}
}
