// Package main implements session management CLI commands for coil.
// This file handles listing, clearing, and pruning saved sessions.
package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"coil/internal/config"
	"coil/internal/store"
)

// =============================================================================
// SESSION MANAGEMENT COMMANDS
// =============================================================================

var cleanupAge time.Duration

// sessionsCmd manages saved sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
	Long: `List and manage the session files under .coil/sessions.

Subcommands:
  list     - List all saved sessions
  clear    - Delete one session, or all of them
  cleanup  - Delete sessions older than --older-than`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all saved sessions",
	RunE:  runSessionsList,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear [session-id]",
	Short: "Delete a saved session, or every session when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsClear,
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions older than --older-than",
	RunE:  runSessionsCleanup,
}

func openSessionStore() (*store.SessionStore, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return store.NewSessionStore(filepath.Join(dir, "sessions"))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}

	sessions, err := st.Sessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	fmt.Println("📁 Saved Sessions")
	fmt.Println(strings.Repeat("─", 60))
	for _, s := range sessions {
		fmt.Printf("  %-28s %4d items  %s\n", s.ID, s.ItemCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Total: %d sessions\n", len(sessions))
	fmt.Println("\nResume one inside chat with /resume <session-id>")
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if err := st.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to delete session '%s': %w", args[0], err)
		}
		fmt.Printf("✅ Deleted session '%s'\n", args[0])
		return nil
	}

	sessions, err := st.Sessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if err := st.Delete(s.ID); err != nil {
			return fmt.Errorf("failed to delete session '%s': %w", s.ID, err)
		}
	}
	fmt.Printf("✅ Deleted %d sessions\n", len(sessions))
	return nil
}

func runSessionsCleanup(cmd *cobra.Command, args []string) error {
	st, err := openSessionStore()
	if err != nil {
		return err
	}

	removed, err := st.CleanupOlderThan(cleanupAge)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Printf("✅ Removed %d sessions older than %s\n", removed, cleanupAge)
	return nil
}

func init() {
	sessionsCleanupCmd.Flags().DurationVar(&cleanupAge, "older-than", 30*24*time.Hour, "Age cutoff for cleanup")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsClearCmd, sessionsCleanupCmd)
}
