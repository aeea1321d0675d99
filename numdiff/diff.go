// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff estimates derivatives of two-argument functions by
// finite differences.
//
// The functions differentiated here all have the shape 𝒇(𝐱, 𝐲) where both
// arguments are flat vectors. Derivatives may be taken with respect to
// either argument while the other is held fixed, which is the form needed
// when expanding an optimum 𝐱̂(𝐲) around a base point.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
package numdiff

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Arg selects which argument of a two-argument function is differentiated.
type Arg int

const (
	// ArgX differentiate with respect to the first argument.
	ArgX Arg = iota
	// ArgY differentiate with respect to the second argument.
	ArgY
)

// Point is a scalar-valued function of two vector arguments:
//   - 𝒇(𝐱, 𝐲) : ℝⁿ × ℝᵐ → ℝ
type Point func(x, y []float64) float64

// Field is a vector-valued function of two vector arguments:
//   - 𝒇(𝐱, 𝐲) : ℝⁿ × ℝᵐ → ℝᵏ
type Field func(x, y []float64) []float64

// Multilinear is a vector-valued function of two base arguments and any
// number of contracted direction vectors. A value produced by k nested
// Directional calls takes exactly k directions, one per differentiation,
// in the order the differentiations were appended.
type Multilinear func(x, y []float64, dirs ...[]float64) []float64

// Lift adapts a Field to the Multilinear shape so it can seed a chain of
// Directional compositions. The lifted function takes no directions.
func Lift(f Field) Multilinear {
	return func(x, y []float64, dirs ...[]float64) []float64 {
		if len(dirs) > 0 {
			panic("numdiff: lifted field takes no direction")
		}
		return f(x, y)
	}
}

// Relative step eps is selected by the truncation order of the stencil:
// √ε for forward differences and ∛ε for central differences.
func (m Method) eps() float64 {
	if m == Central {
		return cubeEps
	}
	return sqrtEps
}

// The default absolute step is h = eps × sign(v) × max(1, |v|).
// When rel is provided it is h = rel × sign(v) × |v|, falling back to the
// default whenever the perturbation underflows at v.
func coordStep(m Method, abs, rel, v float64) float64 {
	if abs != 0 {
		return abs
	}
	eps := m.eps()
	if rel == 0 {
		return math.Copysign(eps, v) * math.Max(1, math.Abs(v))
	}
	s := math.Copysign(rel, v) * math.Abs(v)
	if (v+s)-v == 0 {
		s = math.Copysign(eps, v) * math.Max(1, math.Abs(v))
	}
	return s
}

// Step along a direction of norm dirNorm, scaled so the perturbation
// magnitude matches the coordinate rule at base point p.
func dirStep(m Method, abs, rel float64, p []float64, dirNorm float64) float64 {
	s := abs
	if s == 0 {
		eps := m.eps()
		if rel != 0 {
			eps = rel
		}
		s = eps * math.Max(1, floats.Norm(p, 2))
	}
	return s / dirNorm
}
