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

// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls log level and destination. All fields are optional;
// the zero value yields an info-level logger on stdout.
type Config struct {
	Level      string `json:"level,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
	Output     string `json:"output,omitempty"`
	TimeFormat string `json:"time_format,omitempty"`
}

type zeroLogger struct {
	logger zerolog.Logger
}

// New builds a Logger from config. Output is "stdout" or "stderr";
// Debug forces debug level regardless of Level.
func New(config *Config) (Logger, error) {
	if config == nil {
		config = &Config{}
	}

	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &zeroLogger{logger: zlog}, nil
}

// NewTestLogger returns a logger that discards all output. Intended
// for tests and for components constructed without a logger.
func NewTestLogger() Logger {
	return &zeroLogger{logger: zerolog.New(io.Discard)}
}

func (z *zeroLogger) Trace() *zerolog.Event {
	return z.logger.Trace()
}

func (z *zeroLogger) Debug() *zerolog.Event {
	return z.logger.Debug()
}

func (z *zeroLogger) Info() *zerolog.Event {
	return z.logger.Info()
}

func (z *zeroLogger) Warn() *zerolog.Event {
	return z.logger.Warn()
}

func (z *zeroLogger) Error() *zerolog.Event {
	return z.logger.Error()
}

func (z *zeroLogger) Fatal() *zerolog.Event {
	return z.logger.Fatal()
}

func (z *zeroLogger) With() zerolog.Context {
	return z.logger.With()
}

func (z *zeroLogger) WithComponent(component string) Logger {
	return &zeroLogger{logger: z.logger.With().Str("component", component).Logger()}
}

func (z *zeroLogger) SetLevel(level zerolog.Level) {
	z.logger = z.logger.Level(level)
}
