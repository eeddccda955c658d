// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// NotFound describes an error that occurs when the model being
	// operated on does not exist.
	NotFound = errors.ConstError("model not found")

	// InvalidOwnership describes an error returned when a mutation gated
	// on ownership matches no row, either because the model does not
	// exist in the expected state or because a different worker
	// connection owns it.
	InvalidOwnership = errors.ConstError("model not owned by this connection")

	// InvalidField describes an error returned when an operation names a
	// field that is not a column of the models table.
	InvalidField = errors.ConstError("no such model field")
)
