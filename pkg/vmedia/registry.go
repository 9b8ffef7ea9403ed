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

package vmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/virtualbmc/bmcsim/pkg/kv"
	"github.com/virtualbmc/bmcsim/pkg/logger"
	"github.com/virtualbmc/bmcsim/pkg/models"
)

// Registry manages the virtual media devices of all resources. Device
// records live in the KV store keyed by identity/device; devices for
// an identity are seeded from the catalog on first touch.
type Registry struct {
	store   kv.KVStore
	fetcher ImageFetcher
	devices map[string]models.DeviceTemplate
	log     logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry builds a registry over the given store and fetcher. A
// nil catalog selects DefaultDeviceTypes.
func NewRegistry(store kv.KVStore, fetcher ImageFetcher, devices map[string]models.DeviceTemplate, log logger.Logger) *Registry {
	if devices == nil {
		devices = DefaultDeviceTypes()
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Registry{
		store:   store,
		fetcher: fetcher,
		devices: devices,
		log:     log.WithComponent("vmedia"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Devices returns the catalog's device names, sorted.
func (r *Registry) Devices() []string {
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// DeviceName returns the display name of the device, defaulting to the
// identity when the record carries none.
func (r *Registry) DeviceName(ctx context.Context, identity, device string) (string, error) {
	record, err := r.resolve(ctx, identity, device)
	if err != nil {
		return "", err
	}

	if record.Name == "" {
		return identity, nil
	}

	return record.Name, nil
}

// MediaTypes returns the media type labels the device supports.
func (r *Registry) MediaTypes(ctx context.Context, identity, device string) ([]string, error) {
	record, err := r.resolve(ctx, identity, device)
	if err != nil {
		return nil, err
	}

	return record.MediaTypes, nil
}

// ImageInfo returns the media state of the device.
func (r *Registry) ImageInfo(ctx context.Context, identity, device string) (ImageInfo, error) {
	record, err := r.resolve(ctx, identity, device)
	if err != nil {
		return ImageInfo{}, err
	}

	return ImageInfo{
		ImageName:      record.ImageName,
		Image:          record.Image,
		Inserted:       record.Inserted,
		WriteProtected: record.WriteProtected,
	}, nil
}

// Insert fetches the image at imageURL and attaches it to the device.
// Device state is only written after the fetch fully succeeds; a
// failed fetch leaves the previous state untouched.
func (r *Registry) Insert(ctx context.Context, identity, device, imageURL string, inserted, writeProtected bool) (string, error) {
	if imageURL == "" {
		return "", errEmptyImageURL
	}

	key := DeviceKey{Identity: identity, Device: device}

	lock := r.lockFor("device:" + key.String())
	lock.Lock()
	defer lock.Unlock()

	record, err := r.resolve(ctx, identity, device)
	if err != nil {
		return "", err
	}

	localPath, err := r.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return "", err
	}

	r.log.Debug().
		Str("identity", identity).
		Str("device", device).
		Str("file", filepath.Base(localPath)).
		Msg("Fetched image")

	record.Image = imageURL
	record.Inserted = inserted
	record.WriteProtected = writeProtected
	record.LocalFilePath = localPath

	if err := r.persist(ctx, key, record); err != nil {
		_ = os.Remove(localPath)

		return "", err
	}

	return localPath, nil
}

// Eject clears the device's media state, then removes the locally
// cached image file. File removal is best effort: the logical state
// change has already been persisted and is the primary contract.
func (r *Registry) Eject(ctx context.Context, identity, device string) error {
	key := DeviceKey{Identity: identity, Device: device}

	lock := r.lockFor("device:" + key.String())
	lock.Lock()
	defer lock.Unlock()

	record, err := r.resolve(ctx, identity, device)
	if err != nil {
		return err
	}

	localPath := record.LocalFilePath

	record.Image = ""
	record.ImageName = ""
	record.Inserted = false
	record.WriteProtected = false
	record.LocalFilePath = ""

	if err := r.persist(ctx, key, record); err != nil {
		return err
	}

	if localPath == "" {
		return nil
	}

	if err := os.Remove(localPath); err != nil {
		r.log.Warn().
			Err(err).
			Str("identity", identity).
			Str("file", localPath).
			Msg("Failed to remove local image file")

		return nil
	}

	r.log.Debug().
		Str("identity", identity).
		Str("file", localPath).
		Msg("Removed local image file")

	return nil
}

// resolve looks up a device record, seeding the identity's device set
// from the catalog on first miss. A miss after seeding means the
// device name does not exist.
func (r *Registry) resolve(ctx context.Context, identity, device string) (*models.VirtualMediaDevice, error) {
	record, found, err := r.load(ctx, identity, device)
	if err != nil {
		return nil, err
	}

	if found {
		return record, nil
	}

	if err := r.seed(ctx, identity); err != nil {
		return nil, err
	}

	record, found, err = r.load(ctx, identity, device)
	if err != nil {
		return nil, err
	}

	if found {
		return record, nil
	}

	return nil, fmt.Errorf("%w %q owned by resource %q", ErrNoSuchDevice, device, identity)
}

// seed writes one record per catalog device for this identity. Runs
// under a per-identity lock so concurrent first touches cannot race;
// keys that already exist are never overwritten.
func (r *Registry) seed(ctx context.Context, identity string) error {
	lock := r.lockFor("seed:" + identity)
	lock.Lock()
	defer lock.Unlock()

	entries := make([]kv.KeyValueEntry, 0, len(r.devices))

	for device, template := range r.devices {
		key := DeviceKey{Identity: identity, Device: device}

		exists, err := r.store.Exists(ctx, key.String())
		if err != nil {
			return fmt.Errorf("failed to check device %s: %w", key, err)
		}

		if exists {
			continue
		}

		// Each identity gets an owned copy of the template fields.
		record := models.VirtualMediaDevice{
			Name:       template.Name,
			MediaTypes: append([]string(nil), template.MediaTypes...),
		}

		value, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to encode device %s: %w", key, err)
		}

		entries = append(entries, kv.KeyValueEntry{Key: key.String(), Value: value})
	}

	if len(entries) == 0 {
		return nil
	}

	r.log.Debug().
		Str("identity", identity).
		Int("devices", len(entries)).
		Msg("Seeding virtual media devices")

	return r.store.PutMany(ctx, entries)
}

func (r *Registry) load(ctx context.Context, identity, device string) (*models.VirtualMediaDevice, bool, error) {
	key := DeviceKey{Identity: identity, Device: device}

	value, found, err := r.store.Get(ctx, key.String())
	if err != nil {
		return nil, false, fmt.Errorf("failed to load device %s: %w", key, err)
	}

	if !found {
		return nil, false, nil
	}

	var record models.VirtualMediaDevice
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode device %s: %w", key, err)
	}

	return &record, true, nil
}

func (r *Registry) persist(ctx context.Context, key DeviceKey, record *models.VirtualMediaDevice) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode device %s: %w", key, err)
	}

	if err := r.store.Put(ctx, key.String(), value); err != nil {
		return fmt.Errorf("failed to persist device %s: %w", key, err)
	}

	return nil
}

func (r *Registry) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[name] = lock
	}

	return lock
}
