package service

import (
	"context"
	"encoding/json"

	v1 "flagplane/pkg/api/v1"
	"flagplane/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type relayEnvelope struct {
	Origin string         `json:"origin"`
	Event  v1.StreamEvent `json:"event"`
}

// Relay forwards committed events between API replicas over a redis
// channel. Outgoing events are queued and published in order by one
// goroutine; events from other replicas are handed to the local sink, whose
// version gate drops anything stale.
type Relay struct {
	rdb     *redis.Client
	channel string
	origin  string
	local   EventSink
	queue   chan v1.StreamEvent
}

func NewRelay(rdb *redis.Client, channel string, local EventSink, queueSize int) *Relay {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		queue:   make(chan v1.StreamEvent, queueSize),
	}
}

// Publish queues ev for the other replicas. A full queue drops the event;
// those replicas' subscribers miss one update, which a live-tail stream
// tolerates.
func (r *Relay) Publish(ev v1.StreamEvent) {
	select {
	case r.queue <- ev:
	default:
		logger.Warn("relay queue full, event dropped",
			zap.String("key", ev.Key),
			zap.String("namespace", ev.Namespace),
			zap.String("env", ev.Env),
			zap.Int64("version", ev.Version))
	}
}

// Run publishes queued events and consumes the channel until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	logger.Info("relay started", zap.String("channel", r.channel), zap.String("origin", r.origin))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-r.queue:
				r.send(ctx, ev)
			}
		}
	})
	g.Go(func() error {
		incoming := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-incoming:
				if !ok {
					return nil
				}
				r.handle(msg.Payload)
			}
		}
	})
	return g.Wait()
}

func (r *Relay) send(ctx context.Context, ev v1.StreamEvent) {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		logger.Error("relay encode failed", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		logger.Warn("relay publish failed", zap.String("key", ev.Key), zap.Int64("version", ev.Version), zap.Error(err))
	}
}

func (r *Relay) handle(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Warn("relay message dropped", zap.Error(err))
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(env.Event)
}
