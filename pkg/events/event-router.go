package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// EventHandler receives decoded events from the router.
type EventHandler interface {
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleTitle(ctx context.Context, e *EventTitle) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
	HandleIndex(ctx context.Context, e *EventIndex) error
	HandleNotice(ctx context.Context, e *EventNotice) error
}

// EventRouter is an in-process pub/sub bus for stream and index events.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// NewSink returns a sink publishing to topic on this router.
func (e *EventRouter) NewSink(topic string) *WatermillSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	log.Debug().Msg("Router closed")

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler registers a handler that decodes messages on topic and dispatches
// them to h. Undecodable messages are logged and dropped.
func (e *EventRouter) AddEventHandler(name string, topic string, h EventHandler) {
	e.AddHandler(name, topic, dispatchHandler(h))
}

func dispatchHandler(handler EventHandler) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse event from message payload")
			return nil
		}

		ctx := msg.Context()
		switch ev_ := ev.(type) {
		case *EventPartialCompletion:
			return handler.HandlePartialCompletion(ctx, ev_)
		case *EventTitle:
			return handler.HandleTitle(ctx, ev_)
		case *EventFinal:
			return handler.HandleFinal(ctx, ev_)
		case *EventError:
			return handler.HandleError(ctx, ev_)
		case *EventIndex:
			return handler.HandleIndex(ctx, ev_)
		case *EventNotice:
			return handler.HandleNotice(ctx, ev_)
		default:
			log.Warn().Str("event_type", string(ev.Type())).Msg("Unhandled event type")
		}
		return nil
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
