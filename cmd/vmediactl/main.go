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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/virtualbmc/bmcsim/pkg/config"
	"github.com/virtualbmc/bmcsim/pkg/kv"
	"github.com/virtualbmc/bmcsim/pkg/logger"
	"github.com/virtualbmc/bmcsim/pkg/vmedia"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmediactl",
	Short: "Manage the virtual media devices of emulated resources",
	Long: `vmediactl inspects and drives the virtual media subsystem of the
bmcsim emulator: list the configured device slots, attach a remote
image to a device (downloading and caching it locally) and eject it
again.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/bmcsim/vmedia.json", "Path to config file")

	insertCmd.Flags().Bool("inserted", true, "Mark the media as inserted")
	insertCmd.Flags().Bool("write-protected", true, "Mark the media as read-only")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(ejectCmd)
}

var listCmd = &cobra.Command{
	Use:   "list [identity]",
	Short: "List virtual media devices",
	Long: `List the device slots of the catalog. With an identity argument,
shows the media state of each device owned by that resource.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := newRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if len(args) == 0 {
			for _, device := range registry.Devices() {
				fmt.Println(device)
			}

			return nil
		}

		identity := args[0]

		for _, device := range registry.Devices() {
			info, err := registry.ImageInfo(cmd.Context(), identity, device)
			if err != nil {
				return err
			}

			state := "empty"
			if info.Inserted {
				state = info.Image
			}

			fmt.Printf("%s\t%s\n", device, state)
		}

		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <identity> <device>",
	Short: "Show the media state of a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := newRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		identity, device := args[0], args[1]

		name, err := registry.DeviceName(cmd.Context(), identity, device)
		if err != nil {
			return err
		}

		mediaTypes, err := registry.MediaTypes(cmd.Context(), identity, device)
		if err != nil {
			return err
		}

		info, err := registry.ImageInfo(cmd.Context(), identity, device)
		if err != nil {
			return err
		}

		fmt.Printf("Name:            %s\n", name)
		fmt.Printf("Media types:     %s\n", strings.Join(mediaTypes, ", "))
		fmt.Printf("Image:           %s\n", info.Image)
		fmt.Printf("Image name:      %s\n", info.ImageName)
		fmt.Printf("Inserted:        %t\n", info.Inserted)
		fmt.Printf("Write protected: %t\n", info.WriteProtected)

		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <identity> <device> <image-url>",
	Short: "Attach a remote image to a device",
	Long: `Download the image at the given URL, cache it locally and mark the
device as having media inserted. The download is retried with
exponential backoff on transient failures.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := newRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		inserted, err := cmd.Flags().GetBool("inserted")
		if err != nil {
			return err
		}

		writeProtected, err := cmd.Flags().GetBool("write-protected")
		if err != nil {
			return err
		}

		localPath, err := registry.Insert(cmd.Context(), args[0], args[1], args[2], inserted, writeProtected)
		if err != nil {
			return err
		}

		fmt.Printf("Inserted %s into %s/%s (cached at %s)\n", args[2], args[0], args[1], localPath)

		return nil
	},
}

var ejectCmd = &cobra.Command{
	Use:   "eject <identity> <device>",
	Short: "Eject the media of a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, cleanup, err := newRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := registry.Eject(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}

		fmt.Printf("Ejected media from %s/%s\n", args[0], args[1])

		return nil
	},
}

// newRegistry wires store, fetcher and registry from the config file.
// A missing config file falls back to defaults: default catalog and an
// in-memory store.
func newRegistry(ctx context.Context) (*vmedia.Registry, func(), error) {
	var cfg vmedia.Config

	if _, err := os.Stat(configPath); err == nil {
		if err := config.NewConfig(nil).LoadAndValidate(ctx, configPath, &cfg); err != nil {
			return nil, nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to stat config %s: %w", configPath, err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	store, err := kv.NewStore(ctx, &kv.Config{
		StateDir:  cfg.StateDir,
		NATSURL:   cfg.NATSURL,
		Namespace: "vmedia",
	}, log)
	if err != nil {
		return nil, nil, err
	}

	fetcher := vmedia.NewHTTPFetcher(cfg.Fetch, log)
	registry := vmedia.NewRegistry(store, fetcher, cfg.Devices, log)

	cleanup := func() {
		_ = store.Close()
	}

	return registry, cleanup, nil
}
