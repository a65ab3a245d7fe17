// Package session coordinates the current conversation: creating, loading,
// renaming and deleting conversations and sending messages.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/chatline/pkg/conversation"
	"github.com/go-go-golems/chatline/pkg/events"
	"github.com/go-go-golems/chatline/pkg/index"
	"github.com/go-go-golems/chatline/pkg/reconcile"
	"github.com/go-go-golems/chatline/pkg/remote"
	"github.com/go-go-golems/chatline/pkg/store"
	"github.com/go-go-golems/chatline/pkg/stream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrSendInFlight   = errors.New("a reply is still streaming for this conversation")
	ErrEmptyTitle     = errors.New("title must not be empty")
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrNoConversation = errors.New("no current conversation")
	ErrNoStreamer     = errors.New("no chat server configured")
)

// Streamer opens the reply stream for a user message.
type Streamer interface {
	OpenStream(ctx context.Context, conversationID string, text string) (stream.Source, error)
}

// Deleter removes conversations on the server.
type Deleter interface {
	DeleteConversation(ctx context.Context, id string) error
}

type remoteStreamer struct {
	client *remote.Client
}

func (r remoteStreamer) OpenStream(ctx context.Context, conversationID string, text string) (stream.Source, error) {
	return r.client.OpenStream(ctx, conversationID, text)
}

// NewRemoteStreamer streams replies from the chat server.
func NewRemoteStreamer(c *remote.Client) Streamer {
	return remoteStreamer{client: c}
}

// Controller owns the current-conversation pointer. All reads and writes of the
// pointer go through the controller.
type Controller struct {
	store      *store.RecordStore
	index      *index.Index
	reconciler *reconcile.Reconciler
	streamer   Streamer
	deleter    Deleter
	ids        *conversation.IDGenerator
	sinks      []events.EventSink
	ingestOpts []stream.Option
	now        func() time.Time

	mu       sync.Mutex
	current  string
	inflight map[string]*stream.Handle
}

type Option func(*Controller)

func WithReconciler(r *reconcile.Reconciler) Option {
	return func(c *Controller) {
		c.reconciler = r
	}
}

func WithStreamer(s Streamer) Option {
	return func(c *Controller) {
		c.streamer = s
	}
}

// WithRemoteDeleter also deletes conversations on the server. Remote failures are
// logged and do not prevent the local delete.
func WithRemoteDeleter(d Deleter) Option {
	return func(c *Controller) {
		c.deleter = d
	}
}

func WithSinks(sinks ...events.EventSink) Option {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func WithIndex(i *index.Index) Option {
	return func(c *Controller) {
		c.index = i
	}
}

func WithIDGenerator(g *conversation.IDGenerator) Option {
	return func(c *Controller) {
		c.ids = g
	}
}

// WithIngestorOptions is passed to every stream ingestor.
func WithIngestorOptions(options ...stream.Option) Option {
	return func(c *Controller) {
		c.ingestOpts = append(c.ingestOpts, options...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func NewController(s *store.RecordStore, options ...Option) *Controller {
	ret := &Controller{
		store:    s,
		now:      time.Now,
		inflight: map[string]*stream.Handle{},
	}
	for _, option := range options {
		option(ret)
	}
	if ret.index == nil {
		ret.index = index.New(s)
	}
	if ret.reconciler == nil {
		ret.reconciler = reconcile.New(s, nil)
	}
	if ret.ids == nil {
		ret.ids = conversation.NewIDGenerator(conversation.WithClock(ret.now))
	}
	return ret
}

func (c *Controller) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != ""
}

func (c *Controller) setCurrent(id string) {
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()

	var err error
	if id == "" {
		err = c.store.ClearLastActive()
	} else {
		err = c.store.SetLastActive(id)
	}
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Could not persist last active conversation")
	}
}

// Index rebuilds the conversation listing with the current conversation marked.
func (c *Controller) Index() ([]index.Entry, error) {
	current, _ := c.Current()
	return c.index.Rebuild(current)
}

func (c *Controller) publishIndex() {
	current, _ := c.Current()
	entries, err := c.index.Rebuild(current)
	if err != nil {
		log.Error().Err(err).Msg("Could not rebuild conversation index")
		return
	}
	events.PublishToSinks(c.sinks, events.NewIndexEvent(events.NewMetadata(current, ""), entries, current))
}

func (c *Controller) publishNotice(id string, msg *conversation.Message) {
	if msg == nil {
		return
	}
	events.PublishToSinks(c.sinks, events.NewNoticeEvent(events.NewMetadata(id, ""), msg.Content))
}

// StartNew creates an empty conversation and makes it current. It is not listed
// in the index until its first message is saved.
func (c *Controller) StartNew() (string, error) {
	id, err := c.startNew()
	if err != nil {
		return "", err
	}
	c.publishIndex()
	return id, nil
}

func (c *Controller) startNew() (string, error) {
	id := c.ids.Next()
	// ids persisted by an earlier process may collide with the generator's clock
	for c.store.Has(id) {
		id = c.ids.Next()
	}
	if err := c.store.Put(id, conversation.NewRecord()); err != nil {
		return "", errors.Wrap(err, "could not create conversation")
	}
	log.Debug().Str("id", id).Msg("Started new conversation")
	c.setCurrent(id)
	return id, nil
}

// Load resolves id and makes it current. When it cannot be loaded the current
// pointer is cleared and the notice is published.
func (c *Controller) Load(ctx context.Context, id string) reconcile.Resolution {
	res := c.reconciler.Resolve(ctx, id)
	if res.Found() {
		c.setCurrent(id)
	} else {
		c.setCurrent("")
		c.publishNotice(id, res.Notice)
	}
	c.publishIndex()
	return res
}

// RestoreCurrent makes the last active conversation current if it is stored
// locally. It never contacts the server.
func (c *Controller) RestoreCurrent() (string, bool) {
	id, ok := c.store.LastActive()
	if !ok || !c.store.Has(id) {
		return "", false
	}
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
	return id, true
}

// Resume loads the last active conversation, or starts a new one when there is none.
func (c *Controller) Resume(ctx context.Context) (reconcile.Resolution, error) {
	if id, ok := c.store.LastActive(); ok {
		return c.Load(ctx, id), nil
	}
	id, err := c.StartNew()
	if err != nil {
		return reconcile.Resolution{}, err
	}
	return reconcile.Resolution{
		ID:       id,
		Messages: []conversation.Message{},
		Source:   reconcile.SourceCache,
		Outcome:  reconcile.OutcomeFound,
	}, nil
}

// Rename sets the title of an existing conversation.
func (c *Controller) Rename(id string, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	err := c.store.UpdateExisting(id, func(rec *conversation.Record) error {
		rec.Title = title
		return nil
	})
	if err != nil {
		return err
	}
	c.publishIndex()
	return nil
}

// Delete removes a conversation. Deleting the current conversation clears the
// pointer; deleting an unknown id is not an error. A reply still streaming into
// the conversation is cancelled and never written.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(id); err != nil {
		return errors.Wrapf(err, "could not delete %s", id)
	}

	c.mu.Lock()
	h := c.inflight[id]
	c.mu.Unlock()
	if h != nil {
		log.Debug().Str("id", id).Str("stream_id", h.StreamID).Msg("Cancelling reply of deleted conversation")
		h.Cancel()
	}

	if current, _ := c.Current(); current == id {
		c.setCurrent("")
	} else if last, ok := c.store.LastActive(); ok && last == id {
		if err := c.store.ClearLastActive(); err != nil {
			log.Warn().Err(err).Msg("Could not clear last active conversation")
		}
	}

	if c.deleter != nil {
		if err := c.deleter.DeleteConversation(ctx, id); err != nil && !errors.Is(err, remote.ErrNotFound) {
			log.Warn().Err(err).Str("id", id).Msg("Could not delete conversation on server")
		}
	}

	c.publishIndex()
	return nil
}

// Transcript returns the locally stored record of id.
func (c *Controller) Transcript(id string) (*conversation.Record, bool) {
	return c.store.Get(id)
}

// CurrentTranscript returns the record of the current conversation.
func (c *Controller) CurrentTranscript() (string, *conversation.Record, error) {
	id, ok := c.Current()
	if !ok {
		return "", nil, ErrNoConversation
	}
	rec, ok := c.store.Get(id)
	if !ok {
		rec = conversation.NewRecord()
	}
	return id, rec, nil
}

// PruneEmpty deletes conversations without messages, except the current one.
func (c *Controller) PruneEmpty() ([]string, error) {
	ids, err := c.store.ListIDs()
	if err != nil {
		return nil, err
	}
	current, _ := c.Current()

	pruned := []string{}
	for _, id := range ids {
		if id == current {
			continue
		}
		rec, ok := c.store.Get(id)
		if !ok || !rec.IsEmpty() {
			continue
		}
		if err := c.store.Delete(id); err != nil {
			return pruned, errors.Wrapf(err, "could not prune %s", id)
		}
		pruned = append(pruned, id)
	}
	if len(pruned) > 0 {
		log.Info().Strs("ids", pruned).Msg("Pruned empty conversations")
		c.publishIndex()
	}
	return pruned, nil
}

// InFlight returns the running reply stream of id, if any.
func (c *Controller) InFlight(id string) (*stream.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.inflight[id]
	if !ok || !h.IsRunning() {
		return nil, false
	}
	return h, true
}

// notifyingRecorder rebuilds the index after every committed update. Replies only
// land in records that still exist, so a deleted conversation stays deleted.
type notifyingRecorder struct {
	c *Controller
}

func (r notifyingRecorder) Update(id string, fn func(rec *conversation.Record) error) error {
	if err := r.c.store.UpdateExisting(id, fn); err != nil {
		return err
	}
	r.c.publishIndex()
	return nil
}

type failedSource struct {
	err error
}

func (f failedSource) Next(context.Context) ([]byte, error) { return nil, f.err }

func (f failedSource) Close() error { return nil }

// SendUserMessage appends a user message to the current conversation, starting a
// new one if needed, and streams the reply. The returned handle can be waited on or
// dropped; the reply is committed to the conversation it was sent from.
func (c *Controller) SendUserMessage(ctx context.Context, text string) (*stream.Handle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if c.streamer == nil {
		return nil, ErrNoStreamer
	}

	id, ok := c.Current()
	if !ok {
		var err error
		if id, err = c.startNew(); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	// a nil handle reserves the slot while the stream is being opened
	if h, ok := c.inflight[id]; ok && (h == nil || h.IsRunning()) {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	c.inflight[id] = nil
	c.mu.Unlock()

	h, err := c.send(ctx, id, text)

	c.mu.Lock()
	if err != nil {
		delete(c.inflight, id)
	} else {
		c.inflight[id] = h
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go func() {
		<-h.Done()
		c.mu.Lock()
		if c.inflight[id] == h {
			delete(c.inflight, id)
		}
		c.mu.Unlock()
	}()
	return h, nil
}

func (c *Controller) send(ctx context.Context, id string, text string) (*stream.Handle, error) {
	userMsg := conversation.NewMessage(conversation.MessageTypeUser, text, conversation.WithTime(c.now()))
	err := c.store.Update(id, func(rec *conversation.Record) error {
		rec.Append(userMsg)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not save message to %s", id)
	}
	c.publishIndex()

	options := append([]stream.Option{
		stream.WithClock(c.now),
	}, c.ingestOpts...)
	ctx = events.WithEventSinks(ctx, c.sinks...)
	ing := stream.NewIngestor(id, notifyingRecorder{c: c}, options...)

	var src stream.Source
	src, err = c.streamer.OpenStream(ctx, id, text)
	if err != nil {
		src = failedSource{err: errors.Wrap(err, "could not open reply stream")}
	}
	return stream.Start(ctx, ing, src), nil
}
