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

// Package retry turns handler failures into delayed redelivery or
// dead-lettering.
//
// Middleware wraps a bus.Handler for one topic. A failed message is
// republished to the same topic with a delay and an attempt counter carried
// in its headers, until the topic's attempt budget is spent or the error is
// permanent. The message then goes to the topic's dead-letter channel as a
// core.DeadLetterEnvelope.
//
// Redriver replays archived envelopes onto their original topics once they
// have aged past a processing delay.
package retry
