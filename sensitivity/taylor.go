// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/hypersens/numdiff"
)

// TaylorProblem specifies a Taylor expansion of the optimum 𝛈̂(𝛆) around
// an anchor (𝛈₀, 𝛆₀). Unlike LinearProblem, the objective operates
// directly on flat unconstrained vectors; structured parameters should be
// flattened by a pattern before reaching the engine.
type TaylorProblem struct {
	// Objective optimized by 𝛈 at a particular value of 𝛆.
	Objective numdiff.Point
	// Optional precomputed Hessian at the anchor.
	Hessian *mat.SymDense
	// Differentiation engine. Defaults to central finite differences.
	Engine numdiff.Engine
	// Check that the gradient vanishes at the anchor.
	Validate bool
	// Tolerance for the gradient norm at the anchor. Defaults to 1e-8.
	GradTol float64
}

// TaylorExpansion orchestrates repeated total differentiation of the
// stationarity condition order by order, producing per-order derivative
// evaluators and a summed Taylor series of 𝛈̂(𝛆).
//
// The Hessian is factorized once per anchor and the factorization is
// reused by the implicit-function solve at every order.
type TaylorExpansion struct {
	spec TaylorProblem
	grad numdiff.Field
	hess func(x, y []float64) *mat.SymDense
	st   *expansionState
}

// The accumulated expansion: anchor, factorization, mixed-partial table
// and the per-order term arena. Replaced wholesale whenever the anchor or
// the declared order changes; never mutated in place, so term lists and
// evaluators handed out earlier stay consistent.
type expansionState struct {
	eta0, eps0 []float64
	hess       *mat.SymDense
	chol       *mat.Cholesky
	table      *Table
	terms      [][]*DerivativeTerm // terms[k-1] expands order k
	order      int
}

// New creates an expansion of the given order anchored at (eta0, eps0).
func (p *TaylorProblem) New(eta0, eps0 []float64, order int) (engine *TaylorExpansion, err error) {

	spec := *p

	switch {
	case spec.Objective == nil:
		err = errors.New("objective function is required")
	case spec.GradTol < 0:
		err = errors.New("gradient tolerance must not less than 0")
	}
	if err != nil {
		return
	}

	if spec.Engine == nil {
		spec.Engine = numdiff.FiniteDiff{Method: numdiff.Central}
	}
	if spec.GradTol == 0 {
		spec.GradTol = defaultGradTol
	}

	engine = &TaylorExpansion{
		spec: spec,
		grad: spec.Engine.Gradient(spec.Objective, numdiff.ArgX),
		hess: spec.Engine.Hessian(spec.Objective, numdiff.ArgX),
	}

	if err = engine.SetBaseValues(eta0, eps0, spec.Hessian); err == nil {
		err = engine.SetOrder(order)
	}
	if err != nil {
		engine = nil
	}
	return
}

// SetBaseValues re-anchors the expansion, computing and factorizing the
// Hessian at the new anchor. Term lists for a previously declared order
// are rebuilt from order 1 against the new factorization. Atomic: on any
// failure the previous state is retained.
func (e *TaylorExpansion) SetBaseValues(eta0, eps0 []float64, hess *mat.SymDense) error {

	if len(eta0) == 0 || len(eps0) == 0 {
		return fmt.Errorf("%w: empty anchor", ErrDimension)
	}
	n := len(eta0)

	if e.spec.Validate {
		g := e.grad(eta0, eps0)
		if norm := floats.Norm(g, 2); norm > e.spec.GradTol {
			return fmt.Errorf("%w: ‖grad‖ = %v > %v", ErrOptimality, norm, e.spec.GradTol)
		}
	}

	if hess == nil {
		hess = e.hess(eta0, eps0)
	} else if hess.SymmetricDim() != n {
		return fmt.Errorf("%w: Hessian dimension %d, parameter dimension %d",
			ErrDimension, hess.SymmetricDim(), n)
	}

	chol := new(mat.Cholesky)
	if !chol.Factorize(hess) {
		return fmt.Errorf("%w: Hessian is not positive definite", ErrLinAlg)
	}

	st := &expansionState{
		eta0: slices.Clone(eta0), eps0: slices.Clone(eps0),
		hess: hess, chol: chol,
	}
	if e.st != nil && e.st.order > 0 {
		if err := st.build(e.spec.Engine, e.grad, e.st.order); err != nil {
			return err
		}
	}
	e.st = st
	return nil
}

// SetOrder declares the maximum expansion order, building the
// mixed-partial table and the term lists for orders 1..order from scratch.
// Orders cannot be skipped and previously built orders are not reused.
func (e *TaylorExpansion) SetOrder(order int) error {
	if order < 1 {
		return fmt.Errorf("%w: order %d must be at least 1", ErrOrderRange, order)
	}
	st := &expansionState{
		eta0: e.st.eta0, eps0: e.st.eps0,
		hess: e.st.hess, chol: e.st.chol,
	}
	if err := st.build(e.spec.Engine, e.grad, order); err != nil {
		return err
	}
	e.st = st
	return nil
}

// build fills the table and the term arena for orders 1..order.
// Every order's implicit solve consumes one more directional derivative
// of the gradient than the order itself, hence the order+1 table depth.
func (s *expansionState) build(eng numdiff.Engine, grad numdiff.Field, order int) error {
	s.table = NewTable(numdiff.Lift(grad), order+1, eng)
	s.terms = make([][]*DerivativeTerm, order)

	terms, err := BaseTerms(s.table)
	if err != nil {
		return err
	}
	s.terms[0] = terms
	for k := 1; k < order; k++ {
		if terms, err = NextOrderTerms(s.chol, terms); err != nil {
			return err
		}
		s.terms[k] = terms
	}
	s.order = order
	return nil
}

// Order returns the declared maximum order.
func (e *TaylorExpansion) Order() int { return e.st.order }

// Hessian returns the Hessian at the anchor. The matrix must not be
// modified.
func (e *TaylorExpansion) Hessian() *mat.SymDense { return e.st.hess }

// Terms returns the consolidated term list expanding order k.
// The slice is a copy; the terms themselves are immutable.
func (e *TaylorExpansion) Terms(k int) ([]*DerivativeTerm, error) {
	if k < 1 || k > e.st.order {
		return nil, fmt.Errorf("%w: k = %d with declared order %d", ErrOrderRange, k, e.st.order)
	}
	return slices.Clone(e.st.terms[k-1]), nil
}

// EvaluateOrderDerivative returns dᵏ𝛈̂/d𝛆ᵏ at the anchor, contracted k
// times against the direction deps.
func (e *TaylorExpansion) EvaluateOrderDerivative(deps []float64, k int) ([]float64, error) {
	st := e.st
	if k < 1 || k > st.order {
		return nil, fmt.Errorf("%w: k = %d with declared order %d", ErrOrderRange, k, st.order)
	}
	if len(deps) != len(st.eps0) {
		return nil, fmt.Errorf("%w: direction length %d, hyperparameter dimension %d",
			ErrDimension, len(deps), len(st.eps0))
	}
	return SolveNextEtaDerivative(st.chol, st.terms[k-1], st.eta0, st.eps0, deps)
}

// EvaluateTaylorSeries sums the per-order derivatives into the Taylor
// approximation Σₖ dᵏ𝛈̂/d𝛆ᵏ · Δ𝛆ᵏ/k! for k = 1..maxOrder, plus 𝛈₀ when
// addOffset is set.
func (e *TaylorExpansion) EvaluateTaylorSeries(deps []float64, addOffset bool, maxOrder int) ([]float64, error) {
	st := e.st
	if maxOrder < 1 || maxOrder > st.order {
		return nil, fmt.Errorf("%w: max order %d with declared order %d",
			ErrOrderRange, maxOrder, st.order)
	}

	sum := make([]float64, len(st.eta0))
	if addOffset {
		copy(sum, st.eta0)
	}

	fact := 1.0
	for k := 1; k <= maxOrder; k++ {
		fact *= float64(k)
		d, err := e.EvaluateOrderDerivative(deps, k)
		if err != nil {
			return nil, err
		}
		floats.AddScaled(sum, 1/fact, d)
	}
	return sum, nil
}
