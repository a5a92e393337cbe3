// SPDX-License-Identifier: AGPL-3.0-or-later

// Package policystream implements a server-side fan-out of
// PolicyChangeNotification events to subscribed agents, each holding a
// bounded, oldest-drop channel. The per-client channel/register/unregister
// shape generalizes a single broadcast channel into a per-agent-id channel
// table so a slow or disconnected agent cannot stall delivery to others.
package policystream

import (
	"sync"

	"github.com/guardctl/guardctl/internal/models"
)

const channelCapacity = 100

// Subscription is the bounded channel handed to one subscribed agent.
type Subscription struct {
	agentID string
	ch      chan models.PolicyChangeNotification
}

// C returns the channel to receive notifications on.
func (s *Subscription) C() <-chan models.PolicyChangeNotification { return s.ch }

// Broadcaster fans policy mutations out to subscribed agents.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*Subscription)}
}

// Subscribe registers agentID for updates, replacing any prior
// subscription for the same id (the old channel is closed).
func (b *Broadcaster) Subscribe(agentID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[agentID]; ok {
		close(old.ch)
	}
	sub := &Subscription{agentID: agentID, ch: make(chan models.PolicyChangeNotification, channelCapacity)}
	b.subs[agentID] = sub
	return sub
}

// Unsubscribe removes and closes agentID's channel, if present.
func (b *Broadcaster) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[agentID]; ok {
		delete(b.subs, agentID)
		close(sub.ch)
	}
}

// Publish enqueues notif to every subscribed agent. A channel at capacity
// has its oldest entry dropped to make room — the next successful delivery
// still carries a monotonically fresher UpdatedAt, so an agent that misses
// an intermediate update still converges once it receives a later one.
func (b *Broadcaster) Publish(notif models.PolicyChangeNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agentID, sub := range b.subs {
		select {
		case sub.ch <- notif:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- notif:
			default:
				// The send failed even after dropping the oldest entry:
				// the subscription is removed and its channel closed, so
				// this agent gets no further updates until it subscribes
				// again.
				delete(b.subs, agentID)
				close(sub.ch)
			}
		}
	}
}

// SubscriberCount reports the number of currently subscribed agents.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
