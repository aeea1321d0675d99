// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sensitivity estimates how the optimum of a parametric objective
// moves as a hyperparameter varies, without re-solving the optimization.
//
// Given 𝒇(𝛈, 𝛆) minimized over 𝛈 at a fixed 𝛆₀ with optimum 𝛈₀, the
// stationarity condition ∇𝛈𝒇(𝛈̂(𝛆), 𝛆) = 0 implicitly defines 𝛈̂(𝛆).
// LinearSolver computes the first total derivative d𝛈̂/d𝛆 from one Cholesky
// factorization of the Hessian; TaylorExpansion extends this to a full
// Taylor series of 𝛈̂(𝛆) of any declared order, reusing the same
// factorization for the implicit-function solve at every order.
package sensitivity

import "errors"

var (
	// ErrConstruction reports a derivative term whose orders violate the
	// total-order invariant.
	ErrConstruction = errors.New("sensitivity: malformed derivative term")
	// ErrOptimality reports a gradient norm above tolerance at the
	// claimed optimum.
	ErrOptimality = errors.New("sensitivity: gradient not zero at the supplied optimum")
	// ErrDimension reports vector or matrix shapes that do not match the
	// declared dimensions.
	ErrDimension = errors.New("sensitivity: dimension mismatch")
	// ErrLinAlg reports a Hessian that is not positive definite or an
	// otherwise singular system.
	ErrLinAlg = errors.New("sensitivity: linear algebra failure")
	// ErrUnsupported reports an operation that requires the Hessian
	// factorization on a solver configured without one.
	ErrUnsupported = errors.New("sensitivity: unsupported configuration")
	// ErrOrderRange reports a derivative order outside [1, declared order].
	ErrOrderRange = errors.New("sensitivity: derivative order out of range")
)
