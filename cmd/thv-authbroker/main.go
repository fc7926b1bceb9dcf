// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the ToolHive authorization broker.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/toolhive-authbroker/cmd/thv-authbroker/app"
	"github.com/stacklok/toolhive-authbroker/pkg/logger"
)

func main() {
	// Replaced once flags are parsed.
	logger.Initialize(false)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("error executing command", "error", err)
		os.Exit(1)
	}
}
