// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pattern converts structured, bounded parameters to and from flat
// unconstrained vectors.
//
// A folded value is the natural, possibly bounded representation of a
// parameter. Its flat encoding comes in two flavors: the plain row-major
// flattening, and the free flattening which additionally maps bounded
// entries onto the whole real line so that downstream numerics can treat
// the parameter as unconstrained.
package pattern

import (
	"errors"
	"fmt"
)

// ErrDimension reports a folded or flat value whose length does not match
// the pattern.
var ErrDimension = errors.New("pattern: dimension mismatch")

// ErrBound reports a folded value outside the pattern bounds.
var ErrBound = errors.New("pattern: value violates bounds")

// Pattern describes one parameter shape and its flat encodings.
//
// Both folded and flat values are represented as []float64; for array
// patterns the folded value is the bounded array in row-major storage.
type Pattern interface {
	// FlatLength reports the length of the flat encoding.
	FlatLength(free bool) int
	// Flatten encodes a folded value. With free the bounded entries are
	// mapped onto ℝ. The input is never aliased by the result.
	Flatten(folded []float64, free, validate bool) ([]float64, error)
	// Fold decodes a flat value back to its folded representation.
	Fold(flat []float64, free, validate bool) ([]float64, error)
}

func badLength(want, got int) error {
	return fmt.Errorf("%w: expected length %d, got %d", ErrDimension, want, got)
}
