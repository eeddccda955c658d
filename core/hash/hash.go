// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hash holds the fixed-width identity hashes used to deduplicate
// jobs and models. The width is part of the wire contract; values shorter
// than the width are right-padded with NUL bytes, and longer values are
// rejected.
package hash

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// MaxLen is the width, in bytes, of a job or model identity hash.
const MaxLen = 16

// Hash is a fixed-width identity hash.
type Hash [MaxLen]byte

// Normalize returns the input bytes as a Hash, right-padded with NUL to the
// full width. Input longer than the width is a programming error on the
// caller's part and is rejected with NotValid.
func Normalize(b []byte) (Hash, error) {
	var h Hash
	if len(b) > MaxLen {
		return h, errors.NotValidf("hash of length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// New returns a fresh random hash. Used by job admission when the client
// does not care about deduplication; the randomness makes the
// (client, jobHash) key unique with probability 1.
func New() (Hash, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return Hash{}, errors.Trace(err)
	}
	return Normalize(u[:])
}

// Bytes returns the hash as a byte slice for use as a statement argument.
func (h Hash) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the hash is all NUL bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}
