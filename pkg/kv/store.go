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

	"github.com/virtualbmc/bmcsim/pkg/logger"
)

// Config selects the store backend. NATSURL wins over StateDir; with
// neither set the store is in-memory and state is lost on exit.
type Config struct {
	StateDir  string `json:"state_dir,omitempty"`
	NATSURL   string `json:"nats_url,omitempty"`
	Namespace string `json:"namespace"`
}

func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errNamespaceRequired
	}

	return nil
}

// NewStore builds the KVStore described by config.
func NewStore(ctx context.Context, config *Config, log logger.Logger) (KVStore, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch {
	case config.NATSURL != "":
		log.Info().
			Str("nats_url", config.NATSURL).
			Str("namespace", config.Namespace).
			Msg("Using NATS JetStream state store")

		return NewNatsStore(ctx, config.NATSURL, config.Namespace)
	case config.StateDir != "":
		log.Info().
			Str("state_dir", config.StateDir).
			Str("namespace", config.Namespace).
			Msg("Using bbolt state store")

		return NewBoltStore(config.StateDir, config.Namespace)
	default:
		log.Warn().Msg("No state dir or NATS URL configured; state will not survive restarts")

		return NewMemoryStore(), nil
	}
}
