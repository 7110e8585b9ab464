// Package events implements the gateway's named event streams.
//
// Every streaming component (ledger, scheduler, whale tracker, copy trader,
// swarm) publishes onto a shared Bus. Subscribers get their own bounded
// channel per topic; a publish never blocks — when a subscriber lags, the
// event is dropped for that subscriber only. This is the same drop-on-full
// discipline the rest of the gateway uses for its internal channels.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Topic names every component publishes under.
const (
	TopicTrade          = "trade"
	TopicTradeFilled    = "tradeFilled"
	TopicTradeCancelled = "tradeCancelled"
	TopicSignals        = "signals"
	TopicBotStarted     = "botStarted"
	TopicBotStopped     = "botStopped"
	TopicPositionOpened = "positionOpened"
	TopicPositionChange = "positionChanged"
	TopicPositionClosed = "positionClosed"
	TopicNewWhale       = "newWhale"
	TopicWhaleTrade     = "whaleTrade"
	TopicTradeCopied    = "tradeCopied"
	TopicTradeSkipped   = "tradeSkipped"
	TopicSwarmTrade     = "swarmTrade"
	TopicError          = "error"
)

// Event is one published item: a topic name, a payload, and the publish time.
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

type subscriber struct {
	ch     chan Event
	topics map[string]bool // empty = all topics
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	bufSize int
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriber channels hold bufSize events.
func NewBus(bufSize int, logger *slog.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs:    make(map[int]*subscriber),
		bufSize: bufSize,
		logger:  logger.With("component", "events"),
	}
}

// Subscribe returns a channel receiving events for the given topics (all
// topics when none are named) and a cancel func that closes the channel.
func (b *Bus) Subscribe(topics ...string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	sub := &subscriber{ch: make(chan Event, b.bufSize), topics: set}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without blocking.
// Slow subscribers lose the event.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload, At: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber lagging, event dropped", "topic", topic)
		}
	}
}

// Dropped returns how many events have been dropped across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
