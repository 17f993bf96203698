/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio output devices",
	RunE:  runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("enumerate playback devices: %w", err)
	}

	for _, info := range infos {
		marker := " "
		if info.IsDefault != 0 {
			marker = "*"
		}
		fmt.Printf("%s %s  %s\n", marker, info.ID.String(), info.Name())
	}
	return nil
}
