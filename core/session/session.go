// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package session holds the storage-session identity used as the ownership
// token for gated writes. A process obtains one identity when its store
// handle is constructed and embeds it in the predicate of every
// ownership-gated mutation, so writes from any other session affect zero
// rows rather than the wrong row.
package session

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// ID is an opaque session identity.
type ID string

// NewID returns a fresh session identity.
//
// The underlying pool may re-acquire connections after transient failures,
// so the identity is minted once per handle rather than read back from any
// single connection; it only needs to be unique among all live sessions.
func NewID() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Trace(err)
	}
	return ID(u.String()), nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}
