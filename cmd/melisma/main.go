/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/melisma/internal/config"
	"github.com/friendsincode/melisma/internal/logbuffer"
	"github.com/friendsincode/melisma/internal/logging"
	"github.com/friendsincode/melisma/internal/server"
	"github.com/friendsincode/melisma/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "melisma",
	Short: "Melisma music player playback engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logBuf := logbuffer.New(10000)
	logger := logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	logger.Info().Str("version", version.String()).Msg("Melisma starting")

	srv, err := server.New(cfg, logger, logBuf)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize server")
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Melisma stopped")
	return nil
}
