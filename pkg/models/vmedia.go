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

// Package models holds the shared data types of the emulator.
package models

// VirtualMediaDevice is the persisted state of one virtual media slot
// owned by a managed resource. Name and MediaTypes are seeded from the
// device catalog and never change afterwards; the remaining fields are
// written by insert and eject.
type VirtualMediaDevice struct {
	Name           string   `json:"name"`
	MediaTypes     []string `json:"media_types"`
	Image          string   `json:"image,omitempty"`
	ImageName      string   `json:"image_name,omitempty"`
	Inserted       bool     `json:"inserted,omitempty"`
	WriteProtected bool     `json:"write_protected,omitempty"`

	// LocalFilePath points at the locally cached copy of the image.
	// The registry owns this file; eject removes it.
	LocalFilePath string `json:"local_file_path,omitempty"`
}

// DeviceTemplate is one catalog entry: the immutable seed data for a
// device name.
type DeviceTemplate struct {
	Name       string   `json:"name"`
	MediaTypes []string `json:"media_types"`
}
