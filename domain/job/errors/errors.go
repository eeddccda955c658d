// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// NotFound describes an error that occurs when the job being operated
	// on does not exist.
	NotFound = errors.ConstError("job not found")

	// InvalidOwnership describes an error returned when a mutation gated
	// on ownership matches no row, either because the job does not exist
	// in the expected state or because a different connection owns it.
	InvalidOwnership = errors.ConstError("job not owned by this connection")

	// InvalidField describes an error returned when an operation names a
	// field that is not a column of the jobs table.
	InvalidField = errors.ConstError("no such job field")
)
