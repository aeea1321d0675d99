// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/hypersens/numdiff"
	"github.com/curioloop/hypersens/pattern"
)

// Objective is the optimization target as a function of the folded
// parameter and the folded hyperparameter.
type Objective func(eta, eps []float64) float64

const defaultGradTol = 1e-8

// LinearProblem specifies a first-order sensitivity analysis:
// how the optimum 𝛈̂ of Objective moves under a perturbation of 𝛆,
// linearized around a supplied optimum.
type LinearProblem struct {
	// Objective optimized by 𝛈 at a particular value of 𝛆.
	Objective Objective
	// Optional part of Objective depending on both 𝛈 and 𝛆. When only a
	// small part of the objective involves the hyperparameter, supplying
	// it makes the cross-derivative cheaper. Defaults to Objective.
	HyperObjective Objective
	// Patterns adapting the folded parameters to flat vectors.
	EtaPattern, EpsPattern pattern.Pattern
	// Whether to use the free (unconstrained) encodings.
	EtaFree, EpsFree bool
	// Skip the check that the gradient vanishes at the supplied optimum.
	SkipValidation bool
	// Optional precomputed Hessian of the flattened objective at the
	// optimum. Computed by Engine when nil.
	Hessian *mat.SymDense
	// Disable the Cholesky factorization. No sensitivity matrix is
	// produced in this mode and prediction is unsupported.
	NoFactorize bool
	// Differentiation engine. Defaults to central finite differences.
	Engine numdiff.Engine
	// Tolerance for the gradient norm at the optimum. Defaults to 1e-8.
	GradTol float64
}

// LinearSolver computes the sensitivity matrix −H⁻¹·∂∇𝛈𝒇/∂𝛆 from one
// Hessian factorization and one linear solve, and extrapolates the optimum
// linearly to new hyperparameter values.
//
// All state is owned by the instance; concurrent analyses require
// independent instances.
type LinearSolver struct {
	spec  LinearProblem
	obj   numdiff.Point
	grad  numdiff.Field
	hess  func(x, y []float64) *mat.SymDense
	cross func(x, y []float64) *mat.Dense
	state *linearState
}

// Anchor-specific results, replaced wholesale on re-basing and never
// mutated afterwards: values returned to callers before a re-base stay
// valid.
type linearState struct {
	eta0, eps0 []float64
	hess       *mat.SymDense
	chol       *mat.Cholesky
	sens       *mat.Dense
}

// flatten composes an objective over folded values with the patterns to
// obtain a function of two flat vectors. Fold cannot fail here: the flat
// lengths are fixed by the pattern and validation is deferred to the
// boundaries.
func (p *LinearProblem) flatten(f Objective) numdiff.Point {
	return func(etaFlat, epsFlat []float64) float64 {
		eta, err := p.EtaPattern.Fold(etaFlat, p.EtaFree, false)
		if err != nil {
			panic(fmt.Sprintf("sensitivity: eta fold failed: %v", err))
		}
		eps, err := p.EpsPattern.Fold(epsFlat, p.EpsFree, false)
		if err != nil {
			panic(fmt.Sprintf("sensitivity: eps fold failed: %v", err))
		}
		return f(eta, eps)
	}
}

// New creates a solver anchored at the supplied folded optimum.
func (p *LinearProblem) New(etaFolded, epsFolded []float64) (solver *LinearSolver, err error) {

	spec := *p

	switch {
	case spec.Objective == nil:
		err = errors.New("objective function is required")
	case spec.EtaPattern == nil || spec.EpsPattern == nil:
		err = errors.New("parameter patterns are required")
	case spec.GradTol < 0:
		err = errors.New("gradient tolerance must not less than 0")
	}
	if err != nil {
		return
	}

	if spec.HyperObjective == nil {
		spec.HyperObjective = spec.Objective
	}
	if spec.Engine == nil {
		spec.Engine = numdiff.FiniteDiff{Method: numdiff.Central}
	}
	if spec.GradTol == 0 {
		spec.GradTol = defaultGradTol
	}

	obj := spec.flatten(spec.Objective)
	hyperObj := spec.flatten(spec.HyperObjective)
	eng := spec.Engine

	solver = &LinearSolver{
		spec:  spec,
		obj:   obj,
		grad:  eng.Gradient(obj, numdiff.ArgX),
		hess:  eng.Hessian(obj, numdiff.ArgX),
		cross: eng.Jacobian(eng.Gradient(hyperObj, numdiff.ArgX), numdiff.ArgY),
	}

	if err = solver.SetBaseValues(etaFolded, epsFolded, spec.Hessian); err != nil {
		solver = nil
	}
	return
}

// SetBaseValues re-anchors the solver at a new folded optimum, optionally
// with a precomputed Hessian. The computation is atomic: on any failure
// the previous anchor and factorization are retained.
func (s *LinearSolver) SetBaseValues(etaFolded, epsFolded []float64, hess *mat.SymDense) error {

	eta0, err := s.spec.EtaPattern.Flatten(etaFolded, s.spec.EtaFree, true)
	if err != nil {
		return err
	}
	eps0, err := s.spec.EpsPattern.Flatten(epsFolded, s.spec.EpsFree, true)
	if err != nil {
		return err
	}
	n := len(eta0)

	if !s.spec.SkipValidation {
		g := s.grad(eta0, eps0)
		if norm := floats.Norm(g, 2); norm > s.spec.GradTol {
			return fmt.Errorf("%w: ‖grad‖ = %v > %v", ErrOptimality, norm, s.spec.GradTol)
		}
	}

	state := &linearState{eta0: eta0, eps0: eps0}

	if s.spec.NoFactorize {
		if hess != nil {
			return fmt.Errorf("%w: precomputed Hessian requires factorization", ErrUnsupported)
		}
		s.state = state
		return nil
	}

	if hess == nil {
		hess = s.hess(eta0, eps0)
	} else if hess.SymmetricDim() != n {
		return fmt.Errorf("%w: Hessian dimension %d, parameter dimension %d",
			ErrDimension, hess.SymmetricDim(), n)
	}

	chol := new(mat.Cholesky)
	if !chol.Factorize(hess) {
		return fmt.Errorf("%w: Hessian is not positive definite", ErrLinAlg)
	}

	cross := s.cross(eta0, eps0)
	var sens mat.Dense
	if err := chol.SolveTo(&sens, cross); err != nil {
		return fmt.Errorf("%w: %v", ErrLinAlg, err)
	}
	sens.Scale(-1, &sens)

	state.hess, state.chol, state.sens = hess, chol, &sens
	s.state = state
	return nil
}

// SensitivityMatrix returns d𝛈̂/d𝛆 at the anchor in flat space,
// or nil when factorization is disabled. The matrix must not be modified.
func (s *LinearSolver) SensitivityMatrix() *mat.Dense { return s.state.sens }

// Hessian returns the Hessian at the anchor, or nil when factorization is
// disabled. The matrix must not be modified.
func (s *LinearSolver) Hessian() *mat.SymDense { return s.state.hess }

// Predict extrapolates the optimum linearly to a new folded hyperparameter
// value: 𝛈₀ + S·(𝛆₁ − 𝛆₀). The result is folded when foldOutput is set
// and flat otherwise.
func (s *LinearSolver) Predict(newEpsFolded []float64, foldOutput bool) ([]float64, error) {

	if s.spec.NoFactorize {
		return nil, fmt.Errorf("%w: prediction requires the Hessian factorization", ErrUnsupported)
	}

	eps1, err := s.spec.EpsPattern.Flatten(newEpsFolded, s.spec.EpsFree, true)
	if err != nil {
		return nil, err
	}

	st := s.state
	delta := make([]float64, len(eps1))
	floats.SubTo(delta, eps1, st.eps0)

	var shift mat.VecDense
	shift.MulVec(st.sens, mat.NewVecDense(len(delta), delta))

	eta1 := make([]float64, len(st.eta0))
	for i := range eta1 {
		eta1[i] = st.eta0[i] + shift.AtVec(i)
	}

	if !foldOutput {
		return eta1, nil
	}
	return s.spec.EtaPattern.Fold(eta1, s.spec.EtaFree, false)
}
