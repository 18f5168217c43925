package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flagplane/internal/metrics"
	v1 "flagplane/pkg/api/v1"
	"flagplane/pkg/logger"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Frame is one item of a subscription: a change event, or a keep-alive
// ping when Event is nil.
type Frame struct {
	Event *v1.StreamEvent
}

func (f Frame) IsPing() bool { return f.Event == nil }

// Filter selects the events a subscriber receives. Env is required;
// an empty Namespaces list, or one containing "*", matches every namespace.
type Filter struct {
	Env        string
	Namespaces []string
}

// ParseNamespaces splits a comma separated namespace filter.
func ParseNamespaces(raw string) []string {
	var out []string
	for _, ns := range strings.Split(raw, ",") {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}

type compiledFilter struct {
	env        string
	namespaces map[string]struct{}
}

func compileFilter(f Filter) compiledFilter {
	cf := compiledFilter{env: f.Env}
	for _, ns := range f.Namespaces {
		if ns == "*" {
			cf.namespaces = nil
			break
		}
		if cf.namespaces == nil {
			cf.namespaces = make(map[string]struct{}, len(f.Namespaces))
		}
		cf.namespaces[ns] = struct{}{}
	}
	return cf
}

func (f compiledFilter) match(namespace, env string) bool {
	if env != f.env {
		return false
	}
	if f.namespaces == nil {
		return true
	}
	_, ok := f.namespaces[namespace]
	return ok
}

// Subscription is a live-tail handle on the hub. Frames are read from
// Frames until Done is closed; Err then reports why.
type Subscription struct {
	id     uint64
	filter compiledFilter
	frames chan Frame
	done   chan struct{}
	once   sync.Once
	err    error
	hub    *Hub
}

func (s *Subscription) Frames() <-chan Frame { return s.frames }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns nil for a subscriber that unsubscribed itself, ErrSlowConsumer
// for one dropped on overflow and ErrHubClosed on shutdown. It is only
// meaningful after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// offer never blocks. The frames channel is never closed, so a concurrent
// disconnect cannot make a send panic.
func (s *Subscription) offer(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- f:
		return true
	default:
		s.close(ErrSlowConsumer)
		return false
	}
}

func (s *Subscription) close(reason error) {
	s.once.Do(func() {
		s.err = reason
		s.hub.subs.Delete(s.id)
		s.hub.online.Add(-1)
		s.hub.observer.DecOnline()
		if reason == ErrSlowConsumer {
			s.hub.observer.RecordSlowConsumer()
			logger.Warn("subscriber disconnected",
				zap.Uint64("subscriber", s.id),
				zap.String("env", s.filter.env),
				zap.Error(reason))
		}
		close(s.done)
	})
}

const (
	dispatchShards = 16
	dispatchQueue  = 1024
)

// dispatchItem carries an event to a shard, or a barrier that the shard
// closes once everything queued ahead of it is delivered.
type dispatchItem struct {
	ev      v1.StreamEvent
	barrier chan struct{}
}

// Hub fans StreamEvents out to subscribers. Publish only enqueues; the
// event is delivered by one of a fixed set of dispatcher goroutines chosen
// by the hash of its scope key, so all events of one key pass through the
// same dispatcher in publish order. Delivery offers each event to every
// matching subscriber without blocking; a subscriber whose buffer is full
// is disconnected. Stale or repeated versions of a key are dropped.
type Hub struct {
	subs       sync.Map // uint64 -> *Subscription
	shards     []chan dispatchItem
	quit       chan struct{}
	nextID     atomic.Uint64
	online     atomic.Int64
	closed     atomic.Bool
	bufferSize int
	heartbeat  time.Duration
	observer   metrics.HubObserver
}

func NewHub(bufferSize int, heartbeat time.Duration, observer metrics.HubObserver) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	h := &Hub{
		shards:     make([]chan dispatchItem, dispatchShards),
		quit:       make(chan struct{}),
		bufferSize: bufferSize,
		heartbeat:  heartbeat,
		observer:   observer,
	}
	for i := range h.shards {
		h.shards[i] = make(chan dispatchItem, dispatchQueue)
		go h.dispatch(h.shards[i])
	}
	return h
}

func (h *Hub) Subscribe(f Filter) (*Subscription, error) {
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	sub := &Subscription{
		id:     h.nextID.Add(1),
		filter: compileFilter(f),
		frames: make(chan Frame, h.bufferSize),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.online.Add(1)
	h.observer.IncOnline()
	h.subs.Store(sub.id, sub)
	// Close may have swept the registry before the store above.
	if h.closed.Load() {
		sub.close(ErrHubClosed)
		return nil, ErrHubClosed
	}
	return sub, nil
}

// Unsubscribe releases sub. Calling it more than once is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.close(nil)
	}
}

// Publish hands ev to its dispatcher. It waits only when that dispatcher's
// queue is full, never on subscribers.
func (h *Hub) Publish(ev v1.StreamEvent) {
	if h.closed.Load() {
		return
	}
	shard := h.shards[xxhash.Sum64String(ev.ScopeKey())%uint64(len(h.shards))]
	select {
	case shard <- dispatchItem{ev: ev}:
	case <-h.quit:
	}
}

func (h *Hub) dispatch(queue <-chan dispatchItem) {
	// highest version delivered per scope key; owned by this goroutine
	last := make(map[string]int64)
	for {
		select {
		case <-h.quit:
			return
		case item := <-queue:
			if item.barrier != nil {
				close(item.barrier)
				continue
			}
			scope := item.ev.ScopeKey()
			if item.ev.Version <= last[scope] {
				continue
			}
			last[scope] = item.ev.Version
			h.deliver(item.ev)
		}
	}
}

func (h *Hub) deliver(ev v1.StreamEvent) {
	start := time.Now()
	frame := Frame{Event: &ev}
	delivered := 0
	h.subs.Range(func(_, v any) bool {
		sub := v.(*Subscription)
		if sub.filter.match(ev.Namespace, ev.Env) && sub.offer(frame) {
			delivered++
		}
		return true
	})
	h.observer.RecordPush(delivered)
	h.observer.ObservePublishLatency(time.Since(start).Seconds())
}

// drain returns once every event published before the call is delivered.
func (h *Hub) drain() {
	barriers := make([]chan struct{}, 0, len(h.shards))
	for _, shard := range h.shards {
		b := make(chan struct{})
		select {
		case shard <- dispatchItem{barrier: b}:
			barriers = append(barriers, b)
		case <-h.quit:
			return
		}
	}
	for _, b := range barriers {
		select {
		case <-b:
		case <-h.quit:
			return
		}
	}
}

// Ping offers a keep-alive frame to every subscriber.
func (h *Hub) Ping() {
	h.subs.Range(func(_, v any) bool {
		v.(*Subscription).offer(Frame{})
		return true
	})
}

// Run emits keep-alives until ctx ends, then closes the hub.
func (h *Hub) Run(ctx context.Context) {
	defer h.Close()
	if h.heartbeat <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Ping()
		}
	}
}

// Close delivers what is already queued, then disconnects every subscriber
// and refuses new ones.
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.drain()
	close(h.quit)
	h.subs.Range(func(_, v any) bool {
		v.(*Subscription).close(ErrHubClosed)
		return true
	})
	logger.Info("hub closed")
}

// Online returns the number of live subscribers.
func (h *Hub) Online() int {
	return int(h.online.Load())
}
