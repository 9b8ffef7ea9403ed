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
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/virtualbmc/bmcsim/pkg/logger"
)

const (
	defaultFetchTimeout   = 60 * time.Second
	defaultInitialBackoff = 1 * time.Second
	defaultMaxAttempts    = 5
	backoffMultiplier     = 2
	copyChunkSize         = 8192
	defaultImageName      = "image.iso"
)

// HTTPFetcher downloads images over HTTP with retries. Each attempt
// streams the body to a temp file; the completed file is renamed into
// a uniquely named directory so the final basename is meaningful and
// no partial file is ever visible under its final name.
type HTTPFetcher struct {
	client         *http.Client
	initialBackoff time.Duration
	maxAttempts    int
	downloadDir    string
	log            logger.Logger
}

// NewHTTPFetcher builds a fetcher from config, applying defaults for
// zero values (60s timeout, 1s initial backoff, 5 attempts, system
// temp dir).
func NewHTTPFetcher(config FetchConfig, log logger.Logger) *HTTPFetcher {
	timeout := config.Timeout.Duration()
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}

	initialBackoff := config.InitialBackoff.Duration()
	if initialBackoff == 0 {
		initialBackoff = defaultInitialBackoff
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	downloadDir := config.DownloadDir
	if downloadDir == "" {
		downloadDir = os.TempDir()
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &HTTPFetcher{
		client:         &http.Client{Timeout: timeout},
		initialBackoff: initialBackoff,
		maxAttempts:    maxAttempts,
		downloadDir:    downloadDir,
		log:            log.WithComponent("fetcher"),
	}
}

// Fetch implements ImageFetcher. Attempts are retried with exponential
// backoff (doubling from the initial interval, no jitter); the backoff
// sleep happens only between attempts. HTTP error responses and I/O
// failures are equally retryable.
func (f *HTTPFetcher) Fetch(ctx context.Context, imageURL string) (string, error) {
	if imageURL == "" {
		return "", errEmptyImageURL
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.initialBackoff
	policy.RandomizationFactor = 0
	policy.Multiplier = backoffMultiplier
	policy.MaxInterval = f.initialBackoff * time.Duration(1<<uint(f.maxAttempts))
	policy.MaxElapsedTime = 0

	attempt := 0

	var localPath string

	operation := func() error {
		attempt++

		fetched, err := f.fetchOnce(ctx, imageURL)
		if err != nil {
			return err
		}

		localPath = fetched

		return nil
	}

	notify := func(err error, next time.Duration) {
		f.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", next).
			Str("url", imageURL).
			Msg("Failed fetching image, retrying")
	}

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(f.maxAttempts-1)), ctx)

	if err := backoff.RetryNotify(operation, retryPolicy, notify); err != nil {
		f.log.Error().
			Err(err).
			Int("attempts", attempt).
			Str("url", imageURL).
			Msg("Max retries reached fetching image")

		return "", fmt.Errorf("max retries reached fetching image from URL %s: %w", imageURL, err)
	}

	return localPath, nil
}

// fetchOnce performs one download attempt end to end.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", imageURL, err)
	}

	rsp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed fetching image from URL %s: %w", imageURL, err)
	}

	defer func() {
		_ = rsp.Body.Close()
	}()

	if rsp.StatusCode >= http.StatusBadRequest {
		code := http.StatusBadRequest
		if rsp.StatusCode >= http.StatusInternalServerError {
			code = http.StatusBadGateway
		}

		return "", &FetchError{StatusCode: rsp.StatusCode, Code: code}
	}

	tmp, err := os.CreateTemp(f.downloadDir, "vmedia-*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()

	buf := make([]byte, copyChunkSize)

	if _, err := io.CopyBuffer(tmp, rsp.Body, buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("failed writing image to %s: %w", tmpName, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	imageName := resolveImageName(rsp.Header.Get("Content-Disposition"), imageURL)

	imageDir := filepath.Join(filepath.Dir(tmpName), "vmedia-"+uuid.NewString())
	if err := os.Mkdir(imageDir, 0o750); err != nil {
		_ = os.Remove(tmpName)

		return "", fmt.Errorf("failed to create image dir: %w", err)
	}

	// Rename is the last step: the file never appears under its final
	// name before it is complete.
	localPath := filepath.Join(imageDir, imageName)
	if err := os.Rename(tmpName, localPath); err != nil {
		_ = os.Remove(tmpName)
		_ = os.Remove(imageDir)

		return "", fmt.Errorf("failed to move image into place: %w", err)
	}

	return localPath, nil
}

// resolveImageName picks the local filename: the content-disposition
// filename if the server sent one, else the last URL path segment,
// else a fixed default.
func resolveImageName(contentDisposition, imageURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := filepath.Base(params["filename"]); name != "." && name != string(filepath.Separator) {
				return name
			}
		}
	}

	if parsed, err := url.Parse(imageURL); err == nil {
		if name := path.Base(parsed.Path); name != "." && name != "/" {
			return name
		}
	}

	return defaultImageName
}
