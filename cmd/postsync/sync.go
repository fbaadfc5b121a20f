// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/reconcile"
)

var (
	syncDirection string
	syncMode      string
	statusRecent  int
	unlockAfter   time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization and print its result as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := model.ParseDirection(syncDirection)
		if err != nil {
			return err
		}
		mode, err := model.ParseMode(syncMode)
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

		res, runErr := a.syncer.Run(ctx, reconcile.Request{Direction: dir, Mode: mode})
		if errors.Is(runErr, reconcile.ErrAlreadyRunning) {
			return runErr
		}
		if res.RunID != "" {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		return runErr
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the synchronization status and recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		report, err := a.tracker.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := map[string]any{"status": report}
		if statusRecent > 0 {
			runs, err := a.tracker.Recent(cmd.Context(), statusRecent)
			if err != nil {
				return err
			}
			out["runs"] = runs
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release a sync lock left behind by a crashed run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		released, err := a.tracker.ForceUnlock(cmd.Context(), unlockAfter)
		if err != nil {
			return err
		}
		if released {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "lock released")
		} else {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no stale lock")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncDirection, "direction", "d", string(model.DirectionBidirectional),
		"bidirectional, to-remote, from-remote, to-local or from-local")
	syncCmd.Flags().StringVarP(&syncMode, "mode", "m", string(model.ModeStandard), "standard or enhanced")

	statusCmd.Flags().IntVar(&statusRecent, "recent", 5, "number of recent runs to include")

	unlockCmd.Flags().DurationVar(&unlockAfter, "older-than", 0, "only release locks held at least this long")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
