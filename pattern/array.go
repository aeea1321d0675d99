// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pattern

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Bound represents the scalar bounds shared by every entry of an array.
type Bound struct {
	Lower, Upper float64
}

// Array is a pattern for (optionally bounded) arrays of numbers.
//
// The free encoding maps each entry onto ℝ:
//   - unbounded: identity
//   - lower bound only: log(x − 𝑙)
//   - upper bound only: −log(𝑢 − x)
//   - both: log(x − 𝑙) − log(𝑢 − x)
type Array struct {
	shape []int
	size  int
	bnd   Bound
}

// NewArray creates an array pattern with the given shape and bounds.
// Use ±Inf bounds for unconstrained entries.
func NewArray(shape []int, bnd Bound) (*Array, error) {
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, errors.New("pattern: shape dimensions must greater than 0")
		}
		size *= d
	}
	if math.IsNaN(bnd.Lower) {
		bnd.Lower = math.Inf(-1)
	}
	if math.IsNaN(bnd.Upper) {
		bnd.Upper = math.Inf(1)
	}
	if bnd.Lower >= bnd.Upper {
		return nil, errors.New("pattern: upper bound must strictly exceed lower bound")
	}
	return &Array{shape: slices.Clone(shape), size: size, bnd: bnd}, nil
}

// Shape returns the array dimensions.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// Bounds returns the entry bounds.
func (a *Array) Bounds() Bound { return a.bnd }

// FlatLength reports the flat encoding length.
// Free and plain encodings coincide for arrays.
func (a *Array) FlatLength(free bool) int { return a.size }

func (a *Array) validate(folded []float64) error {
	lb, ub := a.bnd.Lower, a.bnd.Upper
	for i, v := range folded {
		if v < lb || v > ub {
			return fmt.Errorf("%w: entry %d = %v outside [%v, %v]", ErrBound, i, v, lb, ub)
		}
	}
	return nil
}

// Flatten encodes the folded array, applying the free transform on demand.
func (a *Array) Flatten(folded []float64, free, validate bool) ([]float64, error) {
	if len(folded) != a.size {
		return nil, badLength(a.size, len(folded))
	}
	if validate {
		if err := a.validate(folded); err != nil {
			return nil, err
		}
	}

	flat := make([]float64, a.size)
	lb, ub := a.bnd.Lower, a.bnd.Upper
	lo, up := !math.IsInf(lb, -1), !math.IsInf(ub, 1)
	for i, v := range folded {
		switch {
		case !free, !lo && !up:
			flat[i] = v
		case lo && !up:
			flat[i] = math.Log(v - lb)
		case !lo && up:
			flat[i] = -math.Log(ub - v)
		default:
			flat[i] = math.Log(v-lb) - math.Log(ub-v)
		}
	}
	return flat, nil
}

// Fold decodes a flat value, inverting the free transform on demand.
func (a *Array) Fold(flat []float64, free, validate bool) ([]float64, error) {
	if len(flat) != a.size {
		return nil, badLength(a.size, len(flat))
	}

	folded := make([]float64, a.size)
	lb, ub := a.bnd.Lower, a.bnd.Upper
	lo, up := !math.IsInf(lb, -1), !math.IsInf(ub, 1)
	for i, v := range flat {
		switch {
		case !free, !lo && !up:
			folded[i] = v
		case lo && !up:
			folded[i] = math.Exp(v) + lb
		case !lo && up:
			folded[i] = ub - math.Exp(-v)
		default:
			e := math.Exp(v)
			folded[i] = (ub-lb)*e/(1+e) + lb
		}
	}

	// The free transform lands inside the bounds by construction;
	// only plain decoding can violate them.
	if validate && !free {
		if err := a.validate(folded); err != nil {
			return nil, err
		}
	}
	return folded, nil
}
