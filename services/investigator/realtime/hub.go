// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package realtime

import (
	"encoding/json"
	"log/slog"

	"github.com/investigator-ai/investigator/services/investigator/observability"
)

// subscriberBuffer is how many marshaled events a subscriber may lag
// behind before it is dropped. Dropped subscribers see their channel
// close and reconnect for fresh state.
const subscriberBuffer = 32

// Subscription is one subscriber's attachment to a topic. Events arrive
// on C already marshaled; a closed C means the hub dropped or shut down
// the subscription and the consumer should stop reading.
type Subscription struct {
	Topic string
	Kind  string
	C     chan []byte
	hub   *Hub
}

// Close detaches the subscription from the hub. Safe to call more than
// once; the hub closes C exactly once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

type envelope struct {
	topic     string
	eventType string
	payload   []byte
}

type countReq struct {
	topic string
	reply chan int
}

// Hub fans events out to topic subscribers. One goroutine owns the
// registry; Subscribe, Publish, and Close are safe from any goroutine.
type Hub struct {
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan envelope
	counts     chan countReq
	done       chan struct{}
	stopped    chan struct{}
}

// NewHub creates a hub and starts its registry goroutine.
func NewHub() *Hub {
	h := &Hub{
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan envelope, 256),
		counts:     make(chan countReq),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Subscribe attaches a new subscriber to topic. kind labels the
// connection in metrics (observability.SocketInvestigation or
// observability.SocketBoard). After Close the returned subscription's
// channel is already closed.
func (h *Hub) Subscribe(topic, kind string) *Subscription {
	sub := &Subscription{
		Topic: topic,
		Kind:  kind,
		C:     make(chan []byte, subscriberBuffer),
		hub:   h,
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.C)
	}
	return sub
}

// Publish marshals ev once and queues it for every subscriber of topic.
// Publishing to a topic with no subscribers is a no-op.
func (h *Hub) Publish(topic string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("event marshal failed", "topic", topic, "type", ev.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{topic: topic, eventType: ev.Type, payload: payload}:
	case <-h.done:
	}
}

// PublishInvestigation publishes ev on the investigation topic for id.
func (h *Hub) PublishInvestigation(id string, ev Event) {
	h.Publish(InvestigationTopic(id), ev)
}

// PublishBoard publishes ev on the board topic for id.
func (h *Hub) PublishBoard(id string, ev Event) {
	h.Publish(BoardTopic(id), ev)
}

// Subscribers reports how many subscriptions topic currently has.
func (h *Hub) Subscribers(topic string) int {
	req := countReq{topic: topic, reply: make(chan int, 1)}
	select {
	case h.counts <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// Close stops the registry goroutine and closes every subscriber
// channel. Publish and Subscribe become no-ops.
func (h *Hub) Close() {
	select {
	case <-h.done:
		return
	default:
	}
	close(h.done)
	<-h.stopped
}

func (h *Hub) run() {
	topics := make(map[string]map[*Subscription]struct{})

	remove := func(sub *Subscription) {
		subs, ok := topics[sub.Topic]
		if !ok {
			return
		}
		if _, ok := subs[sub]; !ok {
			return
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(topics, sub.Topic)
		}
		close(sub.C)
		observability.DefaultMetrics.WSConnections.WithLabelValues(sub.Kind).Dec()
	}

	for {
		select {
		case sub := <-h.register:
			subs, ok := topics[sub.Topic]
			if !ok {
				subs = make(map[*Subscription]struct{})
				topics[sub.Topic] = subs
			}
			subs[sub] = struct{}{}
			observability.DefaultMetrics.WSConnections.WithLabelValues(sub.Kind).Inc()

		case sub := <-h.unregister:
			remove(sub)

		case env := <-h.broadcast:
			observability.DefaultMetrics.WSEventsPublished.WithLabelValues(env.eventType).Inc()
			for sub := range topics[env.topic] {
				select {
				case sub.C <- env.payload:
				default:
					// Subscriber cannot keep up. Dropping it beats
					// stalling every other subscriber on the topic.
					slog.Warn("dropping slow subscriber", "topic", sub.Topic, "kind", sub.Kind)
					observability.DefaultMetrics.WSClientsDropped.Inc()
					remove(sub)
				}
			}

		case req := <-h.counts:
			req.reply <- len(topics[req.topic])

		case <-h.done:
			for _, subs := range topics {
				for sub := range subs {
					close(sub.C)
					observability.DefaultMetrics.WSConnections.WithLabelValues(sub.Kind).Dec()
				}
			}
			close(h.stopped)
			return
		}
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}
