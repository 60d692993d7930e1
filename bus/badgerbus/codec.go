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

package badgerbus

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/poiesic/nuvine/bus"
	"github.com/poiesic/nuvine/storage"
)

const (
	messagePrefix  = "busmsg:"
	sequenceName   = "busmsg-seq"
	messageFormat  = 1
	keySuffixBytes = 16
)

// makeTopicPrefix generates the prefix shared by all queued messages of a topic.
// Format: prefix:topic\x00
func makeTopicPrefix(topic string) []byte {
	return []byte(messagePrefix + topic + "\x00")
}

// makeMessageKey generates the storage key of a queued message.
// Format: prefix:topic\x00<due unix nanos><sequence>
func makeMessageKey(topic string, due time.Time, seq uint64) []byte {
	prefix := makeTopicPrefix(topic)
	buf := make([]byte, len(prefix)+keySuffixBytes)
	offset := copy(buf, prefix)
	// BigEndian so keys under a topic sort by due time, then publish order
	binary.BigEndian.PutUint64(buf[offset:], uint64(due.UnixNano()))
	binary.BigEndian.PutUint64(buf[offset+8:], seq)
	return buf
}

// keyDue extracts the due time from a message key.
func keyDue(key []byte) time.Time {
	if len(key) < keySuffixBytes {
		return time.Time{}
	}
	nanos := binary.BigEndian.Uint64(key[len(key)-keySuffixBytes:])
	return time.Unix(0, int64(nanos))
}

func marshalMessage(msg *bus.Message) []byte {
	e := storage.NewEncoder(64 + len(msg.Payload))
	e.Int(messageFormat)
	e.String(msg.ID)
	e.String(msg.Topic)
	e.String(msg.Key)
	e.Blob(msg.Payload)
	headers := make([]string, 0, 2*len(msg.Headers))
	for _, name := range slices.Sorted(maps.Keys(msg.Headers)) {
		headers = append(headers, name, msg.Headers[name])
	}
	e.Strings(headers)
	e.Time(msg.AvailableAt)
	e.Time(msg.PublishedAt)
	return e.Bytes()
}

func unmarshalMessage(data []byte) (*bus.Message, error) {
	d := storage.NewDecoder(data)
	if f := d.Int(); d.Err() == nil && f != messageFormat {
		return nil, fmt.Errorf("%w: unknown message format %d", storage.ErrSerializationFailed, f)
	}
	msg := &bus.Message{
		ID:      d.String(),
		Topic:   d.String(),
		Key:     d.String(),
		Payload: d.Blob(),
	}
	headers := d.Strings()
	msg.AvailableAt = d.Time()
	msg.PublishedAt = d.Time()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if len(headers)%2 != 0 {
		return nil, fmt.Errorf("%w: odd header count %d", storage.ErrSerializationFailed, len(headers))
	}
	if len(headers) > 0 {
		msg.Headers = make(map[string]string, len(headers)/2)
		for i := 0; i < len(headers); i += 2 {
			msg.Headers[headers[i]] = headers[i+1]
		}
	}
	return msg, nil
}
