// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Engine supplies the derivative primitives consumed by the sensitivity
// package: gradients, Jacobians, Hessians and forward-mode directional
// derivatives of two-argument functions.
//
// Directional is the composable primitive: applying it k times to a lifted
// gradient yields an evaluator for the k-th order mixed partial contracted
// against k supplied directions, without ever materializing the tensor.
type Engine interface {
	// Gradient returns ∂𝒇/∂𝐚 where 𝐚 is the argument selected by arg.
	Gradient(f Point, arg Arg) Field
	// Jacobian returns 𝐱, 𝐲 ↦ ∂𝒇/∂𝐚 as a k×dim(𝐚) matrix.
	Jacobian(f Field, arg Arg) func(x, y []float64) *mat.Dense
	// Hessian returns 𝐱, 𝐲 ↦ ∂²𝒇/∂𝐚² as a symmetric matrix.
	Hessian(f Point, arg Arg) func(x, y []float64) *mat.SymDense
	// HessVecProduct returns 𝐱, 𝐲, 𝐯 ↦ (∂²𝒇/∂𝐚²)𝐯.
	HessVecProduct(f Point, arg Arg) Multilinear
	// Directional appends one directional derivative with respect to the
	// selected argument, contracted against the last supplied direction.
	// Earlier directions are held fixed as arguments of f.
	Directional(f Multilinear, arg Arg) Multilinear
}

// FiniteDiff implements Engine with finite-difference stencils.
// The zero value uses forward differences with automatic step selection.
type FiniteDiff struct {
	// Finite difference method to use.
	Method Method
	// Absolute step size. When zero the step is selected automatically.
	AbsStep float64
	// Relative step size used to compute the absolute step.
	// Ignored when AbsStep is provided.
	RelStep float64
}

var _ Engine = FiniteDiff{}

func pick(arg Arg, x, y []float64) []float64 {
	if arg == ArgX {
		return x
	}
	return y
}

// Gradient estimates ∂𝒇/∂𝐚 coordinate by coordinate.
// The selected argument is perturbed in place and restored.
func (fd FiniteDiff) Gradient(f Point, arg Arg) Field {
	return func(x, y []float64) []float64 {
		p := pick(arg, x, y)
		g := make([]float64, len(p))
		var f0 float64
		if fd.Method != Central {
			f0 = f(x, y)
		}
		for i, t := range p {
			h := coordStep(fd.Method, fd.AbsStep, fd.RelStep, t)
			if fd.Method == Central {
				p[i] = t - h
				fm := f(x, y)
				p[i] = t + h
				fp := f(x, y)
				g[i] = (fp - fm) / (2 * h)
			} else {
				p[i] = t + h
				g[i] = (f(x, y) - f0) / h
			}
			p[i] = t
		}
		return g
	}
}

// Jacobian estimates ∂𝒇/∂𝐚 column by column.
func (fd FiniteDiff) Jacobian(f Field, arg Arg) func(x, y []float64) *mat.Dense {
	return func(x, y []float64) *mat.Dense {
		p := pick(arg, x, y)
		n := len(p)
		var jac *mat.Dense
		var f0 []float64
		if fd.Method != Central {
			f0 = f(x, y)
			jac = mat.NewDense(len(f0), n, nil)
		}
		for j := 0; j < n; j++ {
			t := p[j]
			h := coordStep(fd.Method, fd.AbsStep, fd.RelStep, t)
			var col []float64
			if fd.Method == Central {
				p[j] = t - h
				fm := f(x, y)
				p[j] = t + h
				fp := f(x, y)
				if jac == nil {
					jac = mat.NewDense(len(fp), n, nil)
				}
				d := 1 / (2 * h)
				col = fp
				for i := range col {
					col[i] = (fp[i] - fm[i]) * d
				}
			} else {
				p[j] = t + h
				fp := f(x, y)
				d := 1 / h
				col = fp
				for i := range col {
					col[i] = (fp[i] - f0[i]) * d
				}
			}
			p[j] = t
			for i := range col {
				jac.Set(i, j, col[i])
			}
		}
		return jac
	}
}

// Hessian estimates ∂²𝒇/∂𝐚² as central differences of the gradient,
// symmetrized by averaging with its transpose.
func (fd FiniteDiff) Hessian(f Point, arg Arg) func(x, y []float64) *mat.SymDense {
	grad := fd.Gradient(f, arg)
	return func(x, y []float64) *mat.SymDense {
		p := pick(arg, x, y)
		n := len(p)
		a := mat.NewDense(n, n, nil)
		for j := 0; j < n; j++ {
			t := p[j]
			h := coordStep(Central, fd.AbsStep, fd.RelStep, t)
			p[j] = t - h
			gm := grad(x, y)
			p[j] = t + h
			gp := grad(x, y)
			p[j] = t
			d := 1 / (2 * h)
			for i := 0; i < n; i++ {
				a.Set(i, j, (gp[i]-gm[i])*d)
			}
		}
		s := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
			}
		}
		return s
	}
}

// HessVecProduct estimates (∂²𝒇/∂𝐚²)𝐯 as the directional derivative of
// the gradient, avoiding the full Hessian.
func (fd FiniteDiff) HessVecProduct(f Point, arg Arg) Multilinear {
	return fd.Directional(Lift(fd.Gradient(f, arg)), arg)
}

// Directional appends one forward-mode directional derivative to f.
// The produced evaluator consumes one more direction than f; the base
// point of the selected argument is displaced along that last direction
// while every earlier direction is passed through unchanged.
func (fd FiniteDiff) Directional(f Multilinear, arg Arg) Multilinear {
	return func(x, y []float64, dirs ...[]float64) []float64 {
		if len(dirs) == 0 {
			panic("numdiff: directional derivative requires a direction")
		}
		v := dirs[len(dirs)-1]
		rest := dirs[:len(dirs)-1]
		p := pick(arg, x, y)
		if len(v) != len(p) {
			panic("numdiff: direction dimension not match argument")
		}

		norm := floats.Norm(v, 2)
		if norm == 0 {
			r := f(x, y, rest...)
			zero := make([]float64, len(r))
			return zero
		}

		h := dirStep(fd.Method, fd.AbsStep, fd.RelStep, p, norm)
		q := make([]float64, len(p))

		shifted := func(s float64) []float64 {
			for i := range p {
				q[i] = p[i] + s*v[i]
			}
			if arg == ArgX {
				return f(q, y, rest...)
			}
			return f(x, q, rest...)
		}

		if fd.Method == Central {
			fp := shifted(h)
			fm := shifted(-h)
			d := 1 / (2 * h)
			r := make([]float64, len(fp))
			for i := range r {
				r[i] = (fp[i] - fm[i]) * d
			}
			return r
		}

		fp := shifted(h)
		f0 := f(x, y, rest...)
		d := 1 / h
		r := make([]float64, len(fp))
		for i := range r {
			r[i] = (fp[i] - f0[i]) * d
		}
		return r
	}
}
