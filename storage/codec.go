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

package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Encoder appends MUS-encoded fields to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with capacity for sizeHint bytes.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the encoded data.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) grow(n int) []byte {
	l := len(e.buf)
	e.buf = slices.Grow(e.buf, n)[:l+n]
	return e.buf[l:]
}

func (e *Encoder) Int64(v int64) {
	varint.Int64.Marshal(v, e.grow(varint.Int64.Size(v)))
}

func (e *Encoder) Int(v int) {
	varint.Int.Marshal(v, e.grow(varint.Int.Size(v)))
}

func (e *Encoder) Bool(v bool) {
	ord.Bool.Marshal(v, e.grow(ord.Bool.Size(v)))
}

func (e *Encoder) String(v string) {
	ord.String.Marshal(v, e.grow(ord.String.Size(v)))
}

// Time encodes t as Unix microseconds; the zero time encodes as 0.
func (e *Encoder) Time(t time.Time) {
	if t.IsZero() {
		e.Int64(0)
		return
	}
	e.Int64(t.UnixMicro())
}

func (e *Encoder) Ints(v []int) {
	e.Int(len(v))
	for _, i := range v {
		e.Int(i)
	}
}

func (e *Encoder) Strings(v []string) {
	e.Int(len(v))
	for _, s := range v {
		e.String(s)
	}
}

func (e *Encoder) Float32s(v []float32) {
	e.Int(len(v))
	for _, f := range v {
		raw.Float32.Marshal(f, e.grow(raw.Float32.Size(f)))
	}
}

func (e *Encoder) Blob(v []byte) {
	e.Int(len(v))
	copy(e.grow(len(v)), v)
}

// Decoder reads MUS-encoded fields in the order they were written.
// The first failure is sticky: later reads return zero values and Err reports it.
type Decoder struct {
	bs  []byte
	err error
}

// NewDecoder returns a Decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{bs: data}
}

// Err returns the first decoding error, wrapped in ErrSerializationFailed.
func (d *Decoder) Err() error {
	if d.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSerializationFailed, d.err)
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.bs)
}

func (d *Decoder) advance(n int, err error) bool {
	if err != nil {
		d.err = err
		return false
	}
	d.bs = d.bs[n:]
	return true
}

func (d *Decoder) Int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs)
	if !d.advance(n, err) {
		return 0
	}
	return v
}

func (d *Decoder) Int() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.bs)
	if !d.advance(n, err) {
		return 0
	}
	return v
}

func (d *Decoder) Bool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs)
	if !d.advance(n, err) {
		return false
	}
	return v
}

func (d *Decoder) String() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs)
	if !d.advance(n, err) {
		return ""
	}
	return v
}

func (d *Decoder) Time() time.Time {
	us := d.Int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// length reads a slice length and checks that at least minElemSize*length bytes remain.
func (d *Decoder) length(minElemSize int) int {
	n := d.Int()
	if d.err != nil {
		return 0
	}
	if n < 0 || n*minElemSize > len(d.bs) {
		d.err = ErrTruncatedData
		return 0
	}
	return n
}

func (d *Decoder) Ints() []int {
	n := d.length(1)
	if n == 0 {
		return nil
	}
	v := make([]int, n)
	for i := range v {
		v[i] = d.Int()
	}
	return v
}

func (d *Decoder) Strings() []string {
	n := d.length(1)
	if n == 0 {
		return nil
	}
	v := make([]string, n)
	for i := range v {
		v[i] = d.String()
	}
	return v
}

func (d *Decoder) Float32s() []float32 {
	n := d.length(4)
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		if d.err != nil {
			return nil
		}
		f, m, err := raw.Float32.Unmarshal(d.bs)
		if !d.advance(m, err) {
			return nil
		}
		v[i] = f
	}
	return v
}

func (d *Decoder) Blob() []byte {
	n := d.length(1)
	if n == 0 {
		return nil
	}
	v := slices.Clone(d.bs[:n])
	d.bs = d.bs[n:]
	return v
}
