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
)

// ImageFetcher turns a remote image URL into a locally owned file.
type ImageFetcher interface {
	// Fetch downloads the image at imageURL and returns the path of
	// the local copy. Ownership of the file passes to the caller,
	// which is responsible for deleting it.
	Fetch(ctx context.Context, imageURL string) (string, error)
}
