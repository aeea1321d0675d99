// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"fmt"
	"slices"

	"github.com/curioloop/hypersens/numdiff"
)

// EtaDeriv evaluates dᵏ𝛈̂/d𝛆ᵏ at the anchor, contracted k times against
// the single direction deps.
type EtaDeriv func(eta0, eps0, deps []float64) []float64

// DerivativeTerm is one summand in the expansion of
// dᵏ[∇𝛈𝒇(𝛈̂(𝛆), 𝛆)]/d𝛆ᵏ, produced by repeated application of the chain
// and product rules to the stationarity condition.
//
// The term evaluates to
//
//	prefactor × ∂⁽ᵐ⁺ⁿ⁾g/∂𝛈ᵐ∂𝛆ⁿ · (d𝛈̂/d𝛆)…(dᵖ𝛈̂/d𝛆ᵖ)… · Δ𝛆…Δ𝛆
//
// where n = epsOrder, etaOrders[p−1] counts the dᵖ𝛈̂/d𝛆ᵖ factors and
// m = Σ etaOrders. Since every factor is only ever contracted against one
// Δ𝛆, the order of contraction is not tracked.
//
// Terms are immutable: differentiation and combination produce new terms.
type DerivativeTerm struct {
	epsOrder  int
	etaOrders []int
	prefactor float64
	etaDerivs []EtaDeriv
	table     *Table
	order     int
	gDeriv    numdiff.Multilinear
}

// NewDerivativeTerm validates and builds one term.
//
// etaDerivs[i] must evaluate d⁽ⁱ⁺¹⁾𝛈̂/d𝛆⁽ⁱ⁺¹⁾ and table must hold the
// mixed partials of the gradient at least up to (Σ etaOrders, epsOrder).
// The total-order invariant requires
// len(etaOrders) == epsOrder + Σ etaOrders[i]·(i+1).
func NewDerivativeTerm(epsOrder int, etaOrders []int, prefactor float64,
	etaDerivs []EtaDeriv, table *Table) (*DerivativeTerm, error) {

	if epsOrder < 0 {
		return nil, fmt.Errorf("%w: negative eps order %d", ErrConstruction, epsOrder)
	}

	order, etaTotal := epsOrder, 0
	for i, n := range etaOrders {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative eta order at %d", ErrConstruction, i)
		}
		order += n * (i + 1)
		etaTotal += n
	}
	if len(etaOrders) != order {
		return nil, fmt.Errorf("%w: eta orders length %d does not match total order %d",
			ErrConstruction, len(etaOrders), order)
	}
	if len(etaDerivs) < order-1 {
		return nil, fmt.Errorf("%w: %d eta derivative evaluators for order %d",
			ErrConstruction, len(etaDerivs), order)
	}
	if table == nil {
		return nil, fmt.Errorf("%w: missing mixed-partial table", ErrConstruction)
	}
	gDeriv, err := table.At(etaTotal, epsOrder)
	if err != nil {
		return nil, fmt.Errorf("%w: mixed partial (%d,%d) beyond table depth %d",
			ErrConstruction, etaTotal, epsOrder, table.Depth())
	}

	return &DerivativeTerm{
		epsOrder:  epsOrder,
		etaOrders: slices.Clone(etaOrders),
		prefactor: prefactor,
		etaDerivs: slices.Clone(etaDerivs),
		table:     table,
		order:     order,
		gDeriv:    gDeriv,
	}, nil
}

// EpsOrder returns the number of 𝛆 partials of the gradient in this term.
func (t *DerivativeTerm) EpsOrder() int { return t.epsOrder }

// EtaOrders returns a copy of the 𝛈̂ derivative multiplicities;
// entry p−1 counts the dᵖ𝛈̂/d𝛆ᵖ factors.
func (t *DerivativeTerm) EtaOrders() []int { return slices.Clone(t.etaOrders) }

// Prefactor returns the constant multiple in front of this term.
func (t *DerivativeTerm) Prefactor() float64 { return t.prefactor }

// Order returns the total differentiation order the term contributes to.
func (t *DerivativeTerm) Order() int { return t.order }

func (t *DerivativeTerm) String() string {
	return fmt.Sprintf("order %d: %v * eta%v * eps[%d]",
		t.order, t.prefactor, t.etaOrders, t.epsOrder)
}

// Evaluate contracts the term against the direction deps at the anchor.
//
// The argument list is the 𝛈̂ derivative values, each repeated by its
// multiplicity, followed by epsOrder copies of deps.
func (t *DerivativeTerm) Evaluate(eta0, eps0, deps []float64) []float64 {
	args := make([][]float64, 0, t.order)
	for i, n := range t.etaOrders {
		if n > 0 {
			if i >= len(t.etaDerivs) {
				panic("sensitivity: no evaluator for the top-order eta derivative")
			}
			vec := t.etaDerivs[i](eta0, eps0, deps)
			for j := 0; j < n; j++ {
				args = append(args, vec)
			}
		}
	}
	for i := 0; i < t.epsOrder; i++ {
		args = append(args, deps)
	}

	v := t.gDeriv(eta0, eps0, args...)
	r := make([]float64, len(v))
	for i := range r {
		r[i] = t.prefactor * v[i]
	}
	return r
}

// Differentiate applies one more total 𝛆 derivative to the term.
//
// The result holds the direct 𝛆 term, the direct 𝛈 term, and for every
// nonzero etaOrders[i] a term promoting one factor from order i+1 to i+2
// with the prefactor multiplied by the multiplicity (product rule over
// repeated identical factors). Every produced term gains next as the
// evaluator for the new highest 𝛈̂ derivative.
func (t *DerivativeTerm) Differentiate(next EtaDeriv) ([]*DerivativeTerm, error) {

	derivs := make([]EtaDeriv, len(t.etaDerivs), len(t.etaDerivs)+1)
	copy(derivs, t.etaDerivs)
	derivs = append(derivs, next)

	base := make([]int, len(t.etaOrders), len(t.etaOrders)+1)
	copy(base, t.etaOrders)
	base = append(base, 0)

	terms := make([]*DerivativeTerm, 0, len(t.etaOrders)+2)

	// ∂g/∂𝛆 picks up one more Δ𝛆 contraction.
	dEps, err := NewDerivativeTerm(t.epsOrder+1, base, t.prefactor, derivs, t.table)
	if err != nil {
		return nil, err
	}
	terms = append(terms, dEps)

	// ∂g/∂𝛈 picks up one more d𝛈̂/d𝛆 factor.
	orders := slices.Clone(base)
	orders[0]++
	dEta, err := NewDerivativeTerm(t.epsOrder, orders, t.prefactor, derivs, t.table)
	if err != nil {
		return nil, err
	}
	terms = append(terms, dEta)

	// Each dⁱ𝛈̂/d𝛆ⁱ factor differentiates to d⁽ⁱ⁺¹⁾𝛈̂/d𝛆⁽ⁱ⁺¹⁾.
	for i, n := range t.etaOrders {
		if n > 0 {
			orders = slices.Clone(base)
			orders[i]--
			orders[i+1]++
			shift, err := NewDerivativeTerm(t.epsOrder, orders,
				t.prefactor*float64(n), derivs, t.table)
			if err != nil {
				return nil, err
			}
			terms = append(terms, shift)
		}
	}

	return terms, nil
}

// Similar reports whether the other term has the same derivative signature.
func (t *DerivativeTerm) Similar(other *DerivativeTerm) bool {
	return t.epsOrder == other.epsOrder && slices.Equal(t.etaOrders, other.etaOrders)
}

// CombineWith sums the prefactors of two similar terms.
func (t *DerivativeTerm) CombineWith(other *DerivativeTerm) (*DerivativeTerm, error) {
	if !t.Similar(other) {
		return nil, fmt.Errorf("%w: cannot combine dissimilar terms %v and %v",
			ErrConstruction, t, other)
	}
	return NewDerivativeTerm(t.epsOrder, t.etaOrders,
		t.prefactor+other.prefactor, t.etaDerivs, t.table)
}
