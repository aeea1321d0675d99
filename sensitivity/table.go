// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"fmt"

	"github.com/curioloop/hypersens/numdiff"
)

// Table is a fixed-size two-dimensional table of directional-derivative
// evaluators for a two-argument gradient function.
//
// Entry (i, j) evaluates ∂⁽ⁱ⁺ʲ⁾g/∂𝛈ⁱ∂𝛆ʲ contracted against i+j supplied
// directions: the i 𝛈 directions first, then the j 𝛆 directions. Entries
// are built once by composed forward-mode differentiation, each reusing
// the entry one order below, and shared by reference across all terms of
// one expansion.
type Table struct {
	depth   int
	entries [][]numdiff.Multilinear
}

// NewTable builds the (depth+1)×(depth+1) table for grad, which must
// evaluate g itself and take no directions.
func NewTable(grad numdiff.Multilinear, depth int, eng numdiff.Engine) *Table {
	entries := make([][]numdiff.Multilinear, depth+1)
	for i := range entries {
		entries[i] = make([]numdiff.Multilinear, depth+1)
		if i == 0 {
			entries[0][0] = grad
		} else {
			entries[i][0] = eng.Directional(entries[i-1][0], numdiff.ArgX)
		}
		for j := 1; j <= depth; j++ {
			entries[i][j] = eng.Directional(entries[i][j-1], numdiff.ArgY)
		}
	}
	return &Table{depth: depth, entries: entries}
}

// Depth returns the maximum order of either index.
func (t *Table) Depth() int { return t.depth }

// At returns the evaluator for the mixed partial of order (i, j).
func (t *Table) At(i, j int) (numdiff.Multilinear, error) {
	if i < 0 || j < 0 || i > t.depth || j > t.depth {
		return nil, fmt.Errorf("%w: mixed partial (%d,%d) with table depth %d",
			ErrOrderRange, i, j, t.depth)
	}
	return t.entries[i][j], nil
}
