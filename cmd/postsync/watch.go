// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/watch"
)

var watchMode string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Import local directory changes into the database as they happen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := model.ParseMode(watchMode)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		w, err := watch.New(a.cfg.LocalDir, a.syncer, mode,
			watch.DebounceConfig{Interval: a.cfg.WatchDebounce, MaxWait: 15 * a.cfg.WatchDebounce}, a.logger)
		if err != nil {
			return err
		}
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchMode, "mode", "m", string(model.ModeEnhanced), "standard or enhanced")
}
