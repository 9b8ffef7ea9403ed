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

// Package vmedia implements the virtual media subsystem of the
// emulated management endpoint: a registry of per-resource virtual
// media devices whose remote images are downloaded, cached locally and
// tracked as inserted or ejected.
package vmedia

import (
	"github.com/virtualbmc/bmcsim/pkg/logger"
	"github.com/virtualbmc/bmcsim/pkg/models"
)

// DeviceKey identifies one device's state: the owning resource plus
// the device name from the catalog.
type DeviceKey struct {
	Identity string
	Device   string
}

func (k DeviceKey) String() string {
	return k.Identity + "/" + k.Device
}

// ImageInfo is the media state of a device as reported to callers.
type ImageInfo struct {
	ImageName      string
	Image          string
	Inserted       bool
	WriteProtected bool
}

// DefaultDeviceTypes is the catalog used when none is configured: one
// CD/DVD slot and one floppy/USB slot per resource.
func DefaultDeviceTypes() map[string]models.DeviceTemplate {
	return map[string]models.DeviceTemplate{
		"Cd": {
			Name:       "Virtual CD",
			MediaTypes: []string{"CD", "DVD"},
		},
		"Floppy": {
			Name:       "Virtual Removable Media",
			MediaTypes: []string{"Floppy", "USBStick"},
		},
	}
}

// FetchConfig tunes the image downloader. Zero values fall back to the
// defaults in fetcher.go.
type FetchConfig struct {
	Timeout        models.Duration `json:"timeout,omitempty"`
	InitialBackoff models.Duration `json:"initial_backoff,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	DownloadDir    string          `json:"download_dir,omitempty"`
}

// Config is the subsystem configuration as loaded from the config
// file. An empty Devices map means the default catalog.
type Config struct {
	StateDir string                           `json:"state_dir,omitempty"`
	NATSURL  string                           `json:"nats_url,omitempty"`
	Devices  map[string]models.DeviceTemplate `json:"devices,omitempty"`
	Fetch    FetchConfig                      `json:"fetch"`
	Logging  logger.Config                    `json:"logging"`
}

func (c *Config) Validate() error {
	if c.Fetch.MaxAttempts < 0 {
		return errInvalidMaxAttempts
	}

	if c.Fetch.Timeout < 0 || c.Fetch.InitialBackoff < 0 {
		return errNegativeFetchDuration
	}

	for device, template := range c.Devices {
		if template.Name == "" {
			return &ConfigError{Device: device, Reason: "name is required"}
		}

		if len(template.MediaTypes) == 0 {
			return &ConfigError{Device: device, Reason: "media_types must not be empty"}
		}
	}

	return nil
}
