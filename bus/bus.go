// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/poiesic/nuvine/core"
)

// HeaderSchema carries the payload schema of a message.
const HeaderSchema = "schema"

var (
	// ErrMalformedPayload indicates a message that cannot be decoded or fails validation.
	// Such messages cannot succeed on replay.
	ErrMalformedPayload = errors.New("malformed message payload")

	// ErrClosed indicates the bus has been closed.
	ErrClosed = errors.New("bus is closed")

	// ErrAlreadySubscribed indicates a second handler for the same topic.
	ErrAlreadySubscribed = errors.New("topic already has a handler")
)

// Message is one record on a topic. Key selects the partition; messages with
// the same key land on the same partition.
type Message struct {
	ID          string
	Topic       string
	Key         string
	Payload     []byte
	Headers     map[string]string
	AvailableAt time.Time
	PublishedAt time.Time
}

// Clone returns a copy of the message with its own headers map.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = maps.Clone(m.Headers)
	return &c
}

// Header returns a header value or "".
func (m *Message) Header(name string) string {
	return m.Headers[name]
}

// SetHeader sets a header value, allocating the map if needed.
func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[name] = value
}

// Handler consumes one message. A returned error means the message was not
// processed; the bus redelivers it.
type Handler func(ctx context.Context, msg *Message) error

// Publisher publishes messages.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Bus is a partitioned, at-least-once publish/subscribe channel with
// delayed delivery through Message.AvailableAt.
type Bus interface {
	Publisher

	// Subscribe registers the handler for a topic. One handler per topic.
	Subscribe(topic string, handler Handler) error

	// Start begins delivering messages to subscribed handlers.
	Start(ctx context.Context) error

	// Close stops delivery and waits for in-flight handlers.
	Close() error
}

// NewMessage encodes an event as a JSON message on the event's topic.
func NewMessage(key string, event core.Event) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.Schema(), err)
	}
	return &Message{
		ID:      core.NewID(),
		Topic:   event.Topic(),
		Key:     key,
		Payload: payload,
		Headers: map[string]string{HeaderSchema: event.Schema()},
	}, nil
}

// PublishEvent encodes and publishes an event.
func PublishEvent(ctx context.Context, p Publisher, key string, event core.Event) error {
	msg, err := NewMessage(key, event)
	if err != nil {
		return err
	}
	return p.Publish(ctx, msg)
}

// Decode decodes and validates a message payload. Any failure wraps ErrMalformedPayload.
func Decode[T core.Event](msg *Message) (T, error) {
	var event T
	if schema := msg.Header(HeaderSchema); schema != "" && schema != event.Schema() {
		return event, fmt.Errorf("%w: schema %q, want %q", ErrMalformedPayload, schema, event.Schema())
	}
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return event, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return event, nil
}

// PartitionFor maps a key onto one of n partitions.
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
