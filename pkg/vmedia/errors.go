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
	"errors"
	"fmt"
)

var (
	// ErrNoSuchDevice means the requested device name is not in the
	// catalog for this deployment. Callers map it to a 404.
	ErrNoSuchDevice = errors.New("no such virtual media device")

	errEmptyImageURL         = errors.New("image URL is required")
	errInvalidMaxAttempts    = errors.New("fetch.max_attempts must not be negative")
	errNegativeFetchDuration = errors.New("fetch durations must not be negative")
)

// FetchError is returned when the image server answers with an HTTP
// error. Code is the transport-level code the front-end should
// surface: 502 when the upstream failed (status >= 500), 400 when the
// request itself was bad.
type FetchError struct {
	StatusCode int
	Code       int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("cannot download virtual media: got error %d from the server", e.StatusCode)
}

// ConfigError reports an invalid catalog entry.
type ConfigError struct {
	Device string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid device template %q: %s", e.Device, e.Reason)
}
