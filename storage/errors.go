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

import "errors"

var (
	// ErrNotFound indicates that the requested job, chunk set or dead letter was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates a second active embedding job for a document,
	// or a record id that is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrVersionConflict indicates the stored version differs from the expected version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery indicates invalid query or connection parameters.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates a stored record ended before its last field.
	ErrTruncatedData = errors.New("truncated data")
)
