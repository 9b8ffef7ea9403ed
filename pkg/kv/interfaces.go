/*
 * Copyright 2026 the bmcsim Authors.
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

// Package kv provides the key-value store backing the emulator's
// persistent state, with in-memory, bbolt and NATS JetStream backends.
package kv

import (
	"context"
)

// KVStore is the storage contract for emulator state. Keys are opaque
// strings; values are whole-record replacements.
type KVStore interface {
	// Get retrieves the value associated with the given key.
	// Returns the value, a boolean indicating if the key was found,
	// and an error if the operation fails.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores a value under the given key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// PutMany stores multiple key/value pairs in a single operation.
	PutMany(ctx context.Context, entries []KeyValueEntry) error

	// Exists reports whether the key is present without reading its value.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the key and its associated value from the store.
	// Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close shuts down the store, releasing any resources.
	Close() error
}

// KeyValueEntry is one pair in a bulk write.
type KeyValueEntry struct {
	Key   string
	Value []byte
}
