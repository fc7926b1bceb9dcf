// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = httperr.WithCode(
		errors.New("entity not found"),
		http.StatusNotFound,
	)

	// ErrAlreadyExists is returned when creating an entity whose key is taken.
	ErrAlreadyExists = httperr.WithCode(
		errors.New("entity already exists"),
		http.StatusConflict,
	)

	// ErrExpired is returned when an entity exists but has expired.
	// It wraps ErrNotFound so callers that only care about presence can
	// check for ErrNotFound alone.
	ErrExpired = fmt.Errorf("%w: entity expired", ErrNotFound)
)
