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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualbmc/bmcsim/pkg/kv"
	"github.com/virtualbmc/bmcsim/pkg/models"
)

// stubFetcher writes a real file per call so eject's cleanup path can
// be exercised against the filesystem.
type stubFetcher struct {
	mu    sync.Mutex
	dir   string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}

	imageDir, err := os.MkdirTemp(s.dir, "img-")
	if err != nil {
		return "", err
	}

	localPath := filepath.Join(imageDir, "boot.img")
	if err := os.WriteFile(localPath, []byte("image-bytes"), 0o600); err != nil {
		return "", err
	}

	return localPath, nil
}

func newTestRegistry(t *testing.T) (*Registry, *kv.MemoryStore, *stubFetcher) {
	t.Helper()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	fetcher := &stubFetcher{dir: t.TempDir()}

	return NewRegistry(store, fetcher, nil, nil), store, fetcher
}

func loadRecord(t *testing.T, store kv.KVStore, identity, device string) models.VirtualMediaDevice {
	t.Helper()

	value, found, err := store.Get(context.Background(), identity+"/"+device)
	require.NoError(t, err)
	require.True(t, found)

	var record models.VirtualMediaDevice
	require.NoError(t, json.Unmarshal(value, &record))

	return record
}

func TestDevices(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	assert.Equal(t, []string{"Cd", "Floppy"}, registry.Devices())
}

func TestLazySeeding(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	name, err := registry.DeviceName(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, "Virtual CD", name)

	// The whole device set for the identity is established on first touch.
	for _, device := range registry.Devices() {
		found, err := store.Exists(ctx, "node0/"+device)
		require.NoError(t, err)
		assert.True(t, found, device)
	}

	// Other identities are untouched.
	found, err := store.Exists(ctx, "node1/Cd")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSeedingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	_, err := registry.Insert(ctx, "node0", "Cd", "http://images.local/boot.iso", true, true)
	require.NoError(t, err)

	// A later accessor on the same identity must not clobber the
	// customized record back to its template state.
	types, err := registry.MediaTypes(ctx, "node0", "Floppy")
	require.NoError(t, err)
	assert.Equal(t, []string{"Floppy", "USBStick"}, types)

	record := loadRecord(t, store, "node0", "Cd")
	assert.Equal(t, "http://images.local/boot.iso", record.Image)
	assert.True(t, record.Inserted)
}

func TestUnknownDevice(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.DeviceName(ctx, "node0", "Dvd")
	assert.ErrorIs(t, err, ErrNoSuchDevice)

	// Same failure once the identity has been seeded.
	_, err = registry.DeviceName(ctx, "node0", "Cd")
	require.NoError(t, err)

	_, err = registry.MediaTypes(ctx, "node0", "Dvd")
	assert.ErrorIs(t, err, ErrNoSuchDevice)
}

func TestMediaTypes(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	types, err := registry.MediaTypes(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, []string{"CD", "DVD"}, types)
}

func TestDeviceNameDefaultsToIdentity(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	value, err := json.Marshal(&models.VirtualMediaDevice{MediaTypes: []string{"CD"}})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "node0/Cd", value))

	name, err := registry.DeviceName(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, "node0", name)
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	localPath, err := registry.Insert(ctx, "node0", "Cd", "http://images.local/boot.iso", true, true)
	require.NoError(t, err)
	assert.FileExists(t, localPath)

	info, err := registry.ImageInfo(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, "http://images.local/boot.iso", info.Image)
	assert.True(t, info.Inserted)
	assert.True(t, info.WriteProtected)

	record := loadRecord(t, store, "node0", "Cd")
	assert.Equal(t, localPath, record.LocalFilePath)
}

func TestInsertWritable(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.Insert(ctx, "node0", "Floppy", "http://images.local/data.img", true, false)
	require.NoError(t, err)

	info, err := registry.ImageInfo(ctx, "node0", "Floppy")
	require.NoError(t, err)
	assert.True(t, info.Inserted)
	assert.False(t, info.WriteProtected)
}

func TestInsertLeavesImageNameAlone(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	value, err := json.Marshal(&models.VirtualMediaDevice{
		Name:      "Virtual CD",
		ImageName: "previous.iso",
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "node0/Cd", value))

	_, err = registry.Insert(ctx, "node0", "Cd", "http://images.local/next.iso", true, true)
	require.NoError(t, err)

	info, err := registry.ImageInfo(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, "previous.iso", info.ImageName)
	assert.Equal(t, "http://images.local/next.iso", info.Image)
}

func TestInsertEmptyURL(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	_, err := registry.Insert(ctx, "node0", "Cd", "", true, true)
	assert.ErrorIs(t, err, errEmptyImageURL)
}

func TestInsertFetchFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	registry, store, fetcher := newTestRegistry(t)

	_, err := registry.Insert(ctx, "node0", "Cd", "http://images.local/boot.iso", true, true)
	require.NoError(t, err)

	before := loadRecord(t, store, "node0", "Cd")

	fetcher.err = &FetchError{StatusCode: 503, Code: 502}

	_, err = registry.Insert(ctx, "node0", "Cd", "http://images.local/other.iso", true, true)
	require.Error(t, err)

	var fetchErr *FetchError

	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 502, fetchErr.Code)

	after := loadRecord(t, store, "node0", "Cd")
	assert.Equal(t, before, after)
}

func TestEject(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	localPath, err := registry.Insert(ctx, "node0", "Cd", "http://images.local/boot.iso", true, true)
	require.NoError(t, err)
	require.FileExists(t, localPath)

	require.NoError(t, registry.Eject(ctx, "node0", "Cd"))

	info, err := registry.ImageInfo(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, ImageInfo{}, info)

	assert.NoFileExists(t, localPath)

	record := loadRecord(t, store, "node0", "Cd")
	assert.Empty(t, record.LocalFilePath)

	// The device stays resolvable after eject.
	name, err := registry.DeviceName(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, "Virtual CD", name)
}

func TestEjectWithoutInsert(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	assert.NoError(t, registry.Eject(ctx, "node0", "Cd"))
}

func TestEjectMissingLocalFile(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	localPath, err := registry.Insert(ctx, "node0", "Cd", "http://images.local/boot.iso", true, true)
	require.NoError(t, err)
	require.NoError(t, os.Remove(localPath))

	// Cleanup failure must not fail the eject.
	require.NoError(t, registry.Eject(ctx, "node0", "Cd"))

	info, err := registry.ImageInfo(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.False(t, info.Inserted)
}

func TestEjectUnknownDevice(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	assert.ErrorIs(t, registry.Eject(ctx, "node0", "Dvd"), ErrNoSuchDevice)
}

func TestSeededRecordsAreIndependentCopies(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	_, err := registry.MediaTypes(ctx, "node0", "Cd")
	require.NoError(t, err)

	_, err = registry.MediaTypes(ctx, "node1", "Cd")
	require.NoError(t, err)

	_, err = registry.Insert(ctx, "node0", "Cd", "http://images.local/boot.iso", true, true)
	require.NoError(t, err)

	other := loadRecord(t, store, "node1", "Cd")
	assert.Empty(t, other.Image)
	assert.False(t, other.Inserted)
	assert.Equal(t, []string{"CD", "DVD"}, other.MediaTypes)
}

func TestConcurrentInsertsDistinctKeys(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t)

	var wg sync.WaitGroup

	errs := make([]error, 2)

	wg.Add(2)

	go func() {
		defer wg.Done()

		_, errs[0] = registry.Insert(ctx, "node0", "Cd", "http://images.local/a.iso", true, true)
	}()

	go func() {
		defer wg.Done()

		_, errs[1] = registry.Insert(ctx, "node0", "Floppy", "http://images.local/b.img", true, false)
	}()

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	cd, err := registry.ImageInfo(ctx, "node0", "Cd")
	require.NoError(t, err)
	assert.Equal(t, "http://images.local/a.iso", cd.Image)

	floppy, err := registry.ImageInfo(ctx, "node0", "Floppy")
	require.NoError(t, err)
	assert.Equal(t, "http://images.local/b.img", floppy.Image)
}

func TestConcurrentInsertsSameKey(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newTestRegistry(t)

	urls := []string{"http://images.local/a.iso", "http://images.local/b.iso"}
	paths := make([]string, 2)

	var wg sync.WaitGroup

	wg.Add(2)

	for i := range urls {
		go func(i int) {
			defer wg.Done()

			localPath, err := registry.Insert(ctx, "node0", "Cd", urls[i], true, true)
			assert.NoError(t, err)

			paths[i] = localPath
		}(i)
	}

	wg.Wait()

	// The record must match exactly one of the two writes, never a mix.
	record := loadRecord(t, store, "node0", "Cd")
	require.Contains(t, urls, record.Image)

	winner := 0
	if record.Image == urls[1] {
		winner = 1
	}

	assert.Equal(t, paths[winner], record.LocalFilePath)
	assert.True(t, record.Inserted)
}
