/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/melisma/internal/config"
	"github.com/friendsincode/melisma/internal/models"
	"github.com/friendsincode/melisma/internal/store"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the persisted queue and settings",
	Long: `Reset Melisma to a fresh state.

This command empties the persisted queue and the settings table. Playback
state, volume and the saved position are lost; media files are untouched.

Examples:
  # Interactive reset (will prompt for confirmation)
  melisma reset

  # Force reset without confirmation
  melisma reset --force
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if !resetForce {
		fmt.Printf("This will erase the queue and settings in %s. Continue? [y/N] ", cfg.DBPath)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			fmt.Println("aborted")
			return nil
		}
	}

	db, err := store.Connect(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := db.Where("1 = 1").Delete(&models.QueueEntryRow{}).Error; err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	if err := db.Where("1 = 1").Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}

	fmt.Println("reset complete")
	return nil
}
