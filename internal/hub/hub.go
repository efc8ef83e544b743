// Package hub implements the subscription and distribution hub: it owns
// subscriber sessions and pushes newly admitted filings to each, in
// admission order, with at-least-once delivery.
package hub

import (
	"context"
	"log"
	"sync"

	"github.com/finfiles/finfiles/internal/filing"
	"github.com/finfiles/finfiles/internal/metric"
	"github.com/finfiles/finfiles/pkg/models"
)

// Hub distributes admitted filings to subscriptions. Admission and
// enqueue happen under one lock, so the fan-out loop observes records in
// store admission order and every subscription sees that same order.
type Hub struct {
	store  *filing.Store
	buffer int

	mu   sync.RWMutex
	subs map[string]*Subscription

	ingestMu sync.Mutex
	in       chan Delivery
}

// New creates a hub over the given store. buffer is the per-subscriber
// watermark: a subscriber whose channel is full past it is dropped into
// Draining rather than blocking the ingestion pipeline.
func New(store *filing.Store, buffer int) *Hub {
	if buffer < 1 {
		buffer = 256
	}
	return &Hub{
		store:  store,
		buffer: buffer,
		subs:   make(map[string]*Subscription),
		in:     make(chan Delivery, buffer),
	}
}

// Run starts the fan-out loop. It returns when ctx is cancelled, closing
// every remaining subscription with ReasonShutdown.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, sub := range h.subs {
				delete(h.subs, id)
				sub.drain(ReasonShutdown)
			}
			h.mu.Unlock()
			return
		case d := <-h.in:
			h.fanOut(d)
		}
	}
}

// Ingest normalizes nothing and stores nothing itself beyond the atomic
// admit: it runs the store's check-and-insert and, when the record is
// new, enqueues it for distribution. Admit and enqueue share a mutex so
// enqueue order equals admission order even under concurrent fetchers.
func (h *Hub) Ingest(f models.Filing) (uint64, bool) {
	h.ingestMu.Lock()
	defer h.ingestMu.Unlock()

	seq, admitted := h.store.Admit(f)
	if !admitted {
		metric.FilingsDuplicate.Inc()
		return 0, false
	}
	metric.FilingsAdmitted.Inc()
	h.in <- Delivery{Filing: f, Seq: seq}
	return seq, true
}

// Subscribe registers a new subscription for the given filter and returns
// its handle. The caller reads deliveries from sub.C().
func (h *Hub) Subscribe(spec filing.FilterSpec) *Subscription {
	sub := newSubscription(spec, h.buffer)
	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe cancels the subscription's future deliveries and starts its
// drain. Unknown ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		sub.drain(ReasonUnsubscribed)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// fanOut pushes one delivery to every matching active subscription. A
// saturated subscriber is dropped into Draining with an explicit reason
// instead of blocking the loop.
func (h *Hub) fanOut(d Delivery) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.State() == Active && filing.Matches(d.Filing, sub.Spec) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sent, open := sub.trySend(d)
		switch {
		case sent:
			metric.Deliveries.Inc()
		case open:
			log.Printf("hub: subscriber %s saturated, draining", sub.ID)
			metric.SubscriberDrops.Inc()
			h.mu.Lock()
			delete(h.subs, sub.ID)
			h.mu.Unlock()
			sub.drain(ReasonSaturated)
		}
	}
}
