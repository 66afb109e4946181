/* Copyright 2025 Stall Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package event provides the in-process event bus over which the sync core
// notifies unrelated UI and automation layers.
package event

import (
	"sync"

	"github.com/stallnet/stall/pkg/node/log"
)

// Topics published by the sync core
const (
	TopicWareUpdated     = "ware.updated"
	TopicWareRemoved     = "ware.removed"
	TopicWareException   = "ware.exception"
	TopicSchemeUpdated   = "scheme.updated"
	TopicSchemeRemoved   = "scheme.removed"
	TopicSchemeException = "scheme.exception"
	TopicRegisterFailed  = "register.failed"
	TopicNetAccess       = "netaccess.result"
)

// Event is a typed notification published on the bus
type Event struct {
	Topic string
	Data  interface{}
}

// subscriberBufSize is the buffer of each subscriber channel. Schedule never
// blocks; a subscriber that falls this far behind loses events.
const subscriberBufSize = 64

// Bus is a fire-and-forget publish/subscribe bus
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	closed bool
}

// NewBus returns a new event bus
func NewBus() *Bus {
	return &Bus{subs: map[string][]chan Event{}}
}

// Subscribe returns a channel receiving the events of the given topic
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, subscriberBufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], ch)

	return ch
}

// Schedule publishes the event to the subscribers of its topic. It never
// blocks the caller.
func (b *Bus) Schedule(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	log.Debug("event %s: %+v\n", ev.Topic, ev.Data)

	for _, ch := range b.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
}
