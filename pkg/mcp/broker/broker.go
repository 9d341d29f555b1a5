// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package broker implements the MCP notification broker: a subscription
// table with copy-on-read fanout, type/filter matching, per-transport
// outbound queues, and delivery tracking.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/mcp-core/internal/csync"
)

// OverflowPolicy selects what happens when a subscription's outbound queue
// is full at publish time.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued delivery to make room (the default).
	DropOldest OverflowPolicy = iota
	// DropNewest discards the delivery that just arrived.
	DropNewest
	// Block waits for queue space, applying backpressure to the publisher.
	Block
)

// DefaultQueueSize bounds a subscription's outbound channel when Config
// leaves QueueSize unset.
const DefaultQueueSize = 64

// Delivery is one notification handed to a subscription's outbound queue.
type Delivery struct {
	NotificationID string
	Type           string
	Payload        interface{}
}

// deliveryState is {queued, sent, dropped} per spec §4.7, tracked per
// (notificationId, subscriptionId) pair.
type deliveryState int

const (
	stateQueued deliveryState = iota
	stateSent
	stateDropped
)

// Config controls broker-wide defaults.
type Config struct {
	Overflow       OverflowPolicy
	QueueSize      int
	RetentionWindow time.Duration
	Logger         *zap.Logger
}

// Subscription is a client's standing request to receive notifications
// matching Types/Filter. Subscriptions are owned by the Broker; transports
// hold only a reference to Outbound for delivery.
type Subscription struct {
	ID        string
	ClientID  string
	Types     map[string]bool // empty means "all types"
	Filter    map[string]interface{}
	CreatedAt time.Time

	mu       sync.Mutex
	active   bool
	outbound chan Delivery
	dropped  int
}

// Outbound returns the channel a transport should drain to deliver
// notifications to this subscriber.
func (s *Subscription) Outbound() <-chan Delivery {
	return s.outbound
}

// Active reports whether the subscription is still live.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// DroppedCount returns the number of deliveries dropped by the overflow
// policy for this subscription.
func (s *Subscription) DroppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) matches(eventType string, payload map[string]interface{}) bool {
	if len(s.Types) > 0 && !s.Types[eventType] {
		return false
	}
	for key, want := range s.Filter {
		got, ok := payload[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Broker manages subscriptions and fans out published events to them.
type Broker struct {
	cfg Config

	subs *csync.Map[string, *Subscription]

	recMu      sync.Mutex
	deliveries map[string]map[string]deliveryState // notificationId -> subscriptionId -> state
	recordedAt map[string]time.Time
}

// New creates a Broker with the given configuration.
func New(cfg Config) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Broker{
		cfg:        cfg,
		subs:       csync.NewMap[string, *Subscription](),
		deliveries: make(map[string]map[string]deliveryState),
		recordedAt: make(map[string]time.Time),
	}
}

// Subscribe registers a new subscription. An empty types set matches every
// event type.
func (b *Broker) Subscribe(clientID string, types []string, filter map[string]interface{}) *Subscription {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	sub := &Subscription{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Types:     typeSet,
		Filter:    filter,
		CreatedAt: time.Now(),
		active:    true,
		outbound:  make(chan Delivery, b.cfg.QueueSize),
	}

	b.subs.Set(sub.ID, sub)

	return sub
}

// Unsubscribe deactivates and removes a subscription. Safe to call more than
// once; subsequent calls are no-ops.
func (b *Broker) Unsubscribe(id string) {
	sub, ok := b.subs.Get(id)
	if ok {
		b.subs.Delete(id)
	}

	if ok {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
}

// Publish fans event (identified by eventType, carrying payload) out to every
// matching, active subscription, applying the overflow policy on a full
// queue. It returns the generated notification id, which DeliveryStatus can
// later query. Per subscription, delivery preserves publish order because
// each subscription's outbound channel is only ever written by Publish
// callers, serialized by the subscription lock.
func (b *Broker) Publish(ctx context.Context, eventType string, payload map[string]interface{}) string {
	notificationID := uuid.New().String()

	// Snapshot the subscription set (copy-on-read) so concurrent
	// Subscribe/Unsubscribe calls never race with fanout.
	var snapshot []*Subscription
	for sub := range b.subs.Values() {
		snapshot = append(snapshot, sub)
	}

	states := make(map[string]deliveryState, len(snapshot))

	for _, sub := range snapshot {
		if !sub.Active() || !sub.matches(eventType, payload) {
			continue
		}

		delivery := Delivery{NotificationID: notificationID, Type: eventType, Payload: payload}
		states[sub.ID] = b.enqueue(ctx, sub, delivery)
	}

	b.recMu.Lock()
	b.deliveries[notificationID] = states
	b.recordedAt[notificationID] = time.Now()
	b.recMu.Unlock()

	b.gc()

	return notificationID
}

func (b *Broker) enqueue(ctx context.Context, sub *Subscription, d Delivery) deliveryState {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	switch b.cfg.Overflow {
	case Block:
		select {
		case sub.outbound <- d:
			return stateQueued
		case <-ctx.Done():
			sub.dropped++
			return stateDropped
		}
	case DropNewest:
		select {
		case sub.outbound <- d:
			return stateQueued
		default:
			sub.dropped++
			b.cfg.Logger.Warn("dropping notification (drop-newest, queue full)",
				zap.String("subscription_id", sub.ID), zap.String("type", d.Type))
			return stateDropped
		}
	default: // DropOldest
		for {
			select {
			case sub.outbound <- d:
				return stateQueued
			default:
				select {
				case <-sub.outbound:
					sub.dropped++
				default:
					// Raced with a consumer draining concurrently; retry the send.
				}
			}
		}
	}
}

// DeliveryStatus returns {subscriptionId: "queued"|"sent"|"dropped"} for a
// given notification id, within the retention window. The second return
// value is false if the id is unknown or has been garbage-collected.
func (b *Broker) DeliveryStatus(notificationID string) (map[string]string, bool) {
	b.recMu.Lock()
	defer b.recMu.Unlock()

	states, ok := b.deliveries[notificationID]
	if !ok {
		return nil, false
	}

	out := make(map[string]string, len(states))
	for subID, st := range states {
		out[subID] = st.String()
	}
	return out, true
}

// MarkSent records that a subscription's consumer successfully delivered a
// notification over its transport (e.g. wrote the SSE frame), used by
// transports to refine {queued,sent,dropped} beyond the moment of enqueue.
func (b *Broker) MarkSent(notificationID, subscriptionID string) {
	b.recMu.Lock()
	defer b.recMu.Unlock()
	if states, ok := b.deliveries[notificationID]; ok {
		states[subscriptionID] = stateSent
	}
}

// gc drops delivery records older than RetentionWindow. Called opportunistically
// from Publish rather than on a separate ticker, since publish frequency
// already bounds how stale the table can get.
func (b *Broker) gc() {
	if b.cfg.RetentionWindow <= 0 {
		return
	}
	b.recMu.Lock()
	defer b.recMu.Unlock()
	cutoff := time.Now().Add(-b.cfg.RetentionWindow)
	for id, recordedAt := range b.recordedAt {
		if recordedAt.Before(cutoff) {
			delete(b.deliveries, id)
			delete(b.recordedAt, id)
		}
	}
}

func (s deliveryState) String() string {
	switch s {
	case stateSent:
		return "sent"
	case stateDropped:
		return "dropped"
	default:
		return "queued"
	}
}
