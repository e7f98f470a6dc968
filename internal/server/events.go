package server

import (
	"context"
	"sync"
	"time"
)

const (
	// EventRecordSynced announces trades or journal entries landing via sync.
	EventRecordSynced = "record-synced"
	// EventCreditsChanged announces a balance change.
	EventCreditsChanged = "credits-changed"
	// EventAchievementUnlocked announces a new achievement.
	EventAchievementUnlocked = "achievement-unlocked"

	eventHeartbeat = "heartbeat"
	eventSource    = "pipledger-backend"
)

// EventMessage is one per-user notification pushed over the SSE stream.
type EventMessage struct {
	UserID    string
	EventType string
	RecordIDs []string
	Timestamp time.Time
}

// EventDispatcher fans per-user events out to active SSE subscribers.
// Slow subscribers drop messages rather than block publishers.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan EventMessage
}

// NewEventDispatcher constructs an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the user. The stream is unregistered when
// the context is cancelled or the cleanup function runs.
func (d *EventDispatcher) Subscribe(ctx context.Context, userID string) (<-chan EventMessage, func()) {
	if userID == "" {
		ch := make(chan EventMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan EventMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its user.
func (d *EventDispatcher) Publish(message EventMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*eventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *EventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *EventDispatcher) registerSubscriber(userID string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *EventDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
