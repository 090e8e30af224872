package services

import (
	"fmt"
	"log"
	"time"
)

// Broadcaster delivers a typed event to every client subscribed to a
// channel. Implemented by Hub.
type Broadcaster interface {
	BroadcastToChannel(channel string, messageType string, payload interface{}) error
}

// Notification is one pending broadcast intent.
type Notification struct {
	Channel string
	Type    string
	Payload interface{}
}

// Outbox decouples broadcast side effects from the request path: services
// enqueue intents and a worker delivers them with bounded retries, so
// a delivery failure can never fail the primary state change.
type Outbox struct {
	queue chan Notification
}

const outboxMaxAttempts = 3

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &Outbox{
		queue: make(chan Notification, capacity),
	}
}

// Enqueue never blocks; when the queue is full the intent is dropped and
// logged. Callers treat every enqueue as best-effort.
func (o *Outbox) Enqueue(channel, messageType string, payload interface{}) {
	select {
	case o.queue <- Notification{Channel: channel, Type: messageType, Payload: payload}:
	default:
		log.Printf("Outbox full, dropping %s for channel %s", messageType, channel)
	}
}

// Run delivers queued notifications until the queue is closed.
func (o *Outbox) Run(b Broadcaster) {
	for n := range o.queue {
		o.deliver(b, n)
	}
}

func (o *Outbox) deliver(b Broadcaster, n Notification) {
	var err error
	for attempt := 1; attempt <= outboxMaxAttempts; attempt++ {
		if err = b.BroadcastToChannel(n.Channel, n.Type, n.Payload); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	log.Printf("Outbox gave up on %s for channel %s: %v", n.Type, n.Channel, err)
}

// Close stops the worker after the queue drains.
func (o *Outbox) Close() {
	close(o.queue)
}

// RoomChannel is the realtime channel for a room's lifecycle events.
func RoomChannel(roomID uint) string {
	return fmt.Sprintf("room:%d", roomID)
}

// LegacyCompetitionChannel is the channel name older clients still listen
// on for competition results.
func LegacyCompetitionChannel(roomID uint) string {
	return fmt.Sprintf("competition:%d", roomID)
}
