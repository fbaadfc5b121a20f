// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olegiv/postsync/internal/version"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "postsync",
	Short: "Synchronize blog posts between a database, GitHub and a local directory",
	Long: `postsync mirrors blog posts stored in SQLite or Turso as Markdown files
with YAML front matter, in a GitHub repository and in a local backup
directory.

Directions:
  bidirectional   pull remote, then push database to remote and local
  to-remote       database -> GitHub
  from-remote     GitHub -> database
  to-local        database -> local directory
  from-local      local directory -> database

Environment variables (all prefixed POSTSYNC_):
  DB_PATH, DB_AUTH_TOKEN              database file or libsql:// URL
  GITHUB_TOKEN, GITHUB_OWNER, GITHUB_REPO, GITHUB_BRANCH
  LOCAL_DIR, POSTS_ROOT               local backup tree
  API_TOKEN                           bearer token for the HTTP API
  SYNC_SCHEDULE                       cron spec for periodic runs
  NOTIFY_URLS, NOTIFY_SECRET          run notification webhooks
  REDIS_URL                           optional blob cache`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "load environment from these files before reading config (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}
