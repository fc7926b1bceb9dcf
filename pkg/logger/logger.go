// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger builds the broker's slog loggers on top of
// toolhive-core/logging.
//
// Components take an injected *slog.Logger. Initialize also installs the
// logger as slog's default so packages that fall back to slog.Default()
// share its format and level.
package logger

import (
	"io"
	"log/slog"
	"strconv"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// UnstructuredLogsEnvVar selects text output when unset or true and JSON
// output when false.
const UnstructuredLogsEnvVar = "UNSTRUCTURED_LOGS"

// New creates a logger configured from the environment. debug lowers the
// level to slog.LevelDebug.
func New(envReader env.Reader, debug bool) *slog.Logger {
	return logging.New(options(envReader, debug, nil)...)
}

// NewWithOutput is New writing to w instead of stderr.
func NewWithOutput(envReader env.Reader, debug bool, w io.Writer) *slog.Logger {
	return logging.New(options(envReader, debug, w)...)
}

// Initialize creates a logger with New using the process environment and
// installs it as the slog default.
func Initialize(debug bool) *slog.Logger {
	l := New(&env.OSReader{}, debug)
	slog.SetDefault(l)
	return l
}

func options(envReader env.Reader, debug bool, w io.Writer) []logging.Option {
	var opts []logging.Option
	if unstructuredLogsWithEnv(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}
	if debug {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}
	if w != nil {
		opts = append(opts, logging.WithOutput(w))
	}
	return opts
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructuredLogs, err := strconv.ParseBool(envReader.Getenv(UnstructuredLogsEnvVar))
	if err != nil {
		// Unset or unparsable: default to plain text.
		return true
	}
	return unstructuredLogs
}
