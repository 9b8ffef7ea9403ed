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

package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// BoltStore persists state in a bbolt file under the configured state
// dir, one database file and bucket per namespace. This is what makes
// emulator state survive process restarts.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) <stateDir>/<namespace>.db and
// ensures the namespace bucket exists.
func NewBoltStore(stateDir, namespace string) (*BoltStore, error) {
	if namespace == "" {
		return nil, errNamespaceRequired
	}

	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", stateDir, err)
	}

	path := filepath.Join(stateDir, namespace+".db")

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}

	bucket := []byte(namespace)

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create bucket %s: %w", namespace, err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

func (b *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(b.bucket).Get([]byte(key))
		if value != nil {
			out = make([]byte, len(value))
			copy(out, value)
		}

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if out == nil {
		return nil, false, nil
	}

	return out, true, nil
}

func (b *BoltStore) Put(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}

	return nil
}

func (b *BoltStore) PutMany(_ context.Context, entries []KeyValueEntry) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)

		for _, entry := range entries {
			if err := bucket.Put([]byte(entry.Key), entry.Value); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put %d entries: %w", len(entries), err)
	}

	return nil
}

func (b *BoltStore) Exists(_ context.Context, key string) (bool, error) {
	var found bool

	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(b.bucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}

	return found, nil
}

func (b *BoltStore) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	return nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
