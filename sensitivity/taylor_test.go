// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/hypersens/numdiff"
)

func TestTaylorProblemValidation(t *testing.T) {
	p := &TaylorProblem{}
	_, err := p.New([]float64{0}, []float64{0}, 1)
	require.Error(t, err)

	p = &TaylorProblem{Objective: quadObj, GradTol: -1}
	_, err = p.New([]float64{0, 0}, []float64{0, 0}, 1)
	require.Error(t, err)

	p = &TaylorProblem{Objective: quadObj, Engine: exactEngine()}
	_, err = p.New([]float64{0, 0}, []float64{0, 0}, 0)
	assert.ErrorIs(t, err, ErrOrderRange)
}

func TestTaylorQuadratic(t *testing.T) {
	p := &TaylorProblem{Objective: quadObj, Engine: exactEngine(), Validate: true}
	eng, err := p.New([]float64{0, 0}, []float64{0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, eng.Order())

	deps := []float64{0.3, -0.2}

	// Order 1 is the sensitivity matrix applied to the direction.
	var want mat.VecDense
	want.MulVec(quadSens(t), mat.NewVecDense(2, deps))
	d1, err := eng.EvaluateOrderDerivative(deps, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.RawVector().Data, d1, 1e-9)

	// The optimum is linear in 𝛆, so every higher order vanishes.
	for k := 2; k <= 3; k++ {
		dk, err := eng.EvaluateOrderDerivative(deps, k)
		require.NoError(t, err)
		for _, v := range dk {
			assert.InDelta(t, 0, v, 1e-8)
		}
	}

	// The series reproduces 𝛈̂(𝛆) exactly at any declared order.
	for maxOrder := 1; maxOrder <= 3; maxOrder++ {
		s, err := eng.EvaluateTaylorSeries(deps, true, maxOrder)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want.RawVector().Data, s, 1e-8)
	}

	// Without the offset the series is the displacement from 𝛈₀.
	s, err := eng.EvaluateTaylorSeries(deps, false, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.RawVector().Data, s, 1e-8)
}

func TestTaylorScalarScenario(t *testing.T) {
	// 𝒇(η, ε) = ½(η − ε)² anchored at the origin: H = 1, sensitivity = 1.
	obj := func(x, y []float64) float64 {
		d := x[0] - y[0]
		return 0.5 * d * d
	}
	p := &TaylorProblem{Objective: obj, Engine: exactEngine(), Validate: true}
	eng, err := p.New([]float64{0}, []float64{0}, 2)
	require.NoError(t, err)

	assert.InDelta(t, 1, eng.Hessian().At(0, 0), 1e-10)

	d1, err := eng.EvaluateOrderDerivative([]float64{1}, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1}, d1, 1e-9)
}

func TestTaylorOrderRange(t *testing.T) {
	p := &TaylorProblem{Objective: quadObj, Engine: exactEngine()}
	eng, err := p.New([]float64{0, 0}, []float64{0, 0}, 2)
	require.NoError(t, err)

	deps := []float64{1, 0}

	_, err = eng.EvaluateOrderDerivative(deps, 0)
	assert.ErrorIs(t, err, ErrOrderRange)
	_, err = eng.EvaluateOrderDerivative(deps, 3)
	assert.ErrorIs(t, err, ErrOrderRange)

	_, err = eng.EvaluateTaylorSeries(deps, true, 0)
	assert.ErrorIs(t, err, ErrOrderRange)
	_, err = eng.EvaluateTaylorSeries(deps, true, 3)
	assert.ErrorIs(t, err, ErrOrderRange)

	_, err = eng.EvaluateOrderDerivative([]float64{1}, 1)
	assert.ErrorIs(t, err, ErrDimension)

	assert.ErrorIs(t, eng.SetOrder(0), ErrOrderRange)
}

func TestTaylorTerms(t *testing.T) {
	p := &TaylorProblem{Objective: quadObj, Engine: exactEngine()}
	eng, err := p.New([]float64{0, 0}, []float64{0, 0}, 2)
	require.NoError(t, err)

	terms, err := eng.Terms(1)
	require.NoError(t, err)
	assert.Len(t, terms, 2)

	terms, err = eng.Terms(2)
	require.NoError(t, err)
	assert.Len(t, terms, 4)

	_, err = eng.Terms(0)
	assert.ErrorIs(t, err, ErrOrderRange)
	_, err = eng.Terms(3)
	assert.ErrorIs(t, err, ErrOrderRange)
}

func TestTaylorValidate(t *testing.T) {
	p := &TaylorProblem{Objective: quadObj, Engine: exactEngine(), Validate: true}
	_, err := p.New([]float64{1, 1}, []float64{0, 0}, 1)
	assert.ErrorIs(t, err, ErrOptimality)
}

func TestTaylorNotPositiveDefinite(t *testing.T) {
	obj := func(x, y []float64) float64 { return -x[0]*x[0] + x[0]*y[0] }
	p := &TaylorProblem{Objective: obj, Engine: exactEngine()}
	_, err := p.New([]float64{0}, []float64{0}, 1)
	assert.ErrorIs(t, err, ErrLinAlg)
}

func TestTaylorPrecomputedHessian(t *testing.T) {
	p := &TaylorProblem{
		Objective: quadObj,
		Engine:    exactEngine(),
		Hessian:   mat.NewSymDense(2, quadA),
	}
	eng, err := p.New([]float64{0, 0}, []float64{0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, quadA, eng.Hessian().RawSymmetric().Data)

	p.Hessian = mat.NewSymDense(3, make([]float64, 9))
	_, err = p.New([]float64{0, 0}, []float64{0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestTaylorRebase(t *testing.T) {
	// 𝒇(η, ε) = ½(η − sin ε)² has the exact optimum η̂(ε) = sin ε.
	obj := func(x, y []float64) float64 {
		d := x[0] - math.Sin(y[0])
		return 0.5 * d * d
	}
	p := &TaylorProblem{
		Objective: obj,
		Engine:    numdiff.FiniteDiff{Method: numdiff.Central, AbsStep: 1e-2},
		Validate:  true,
		GradTol:   1e-6,
	}
	eng, err := p.New([]float64{0}, []float64{0}, 3)
	require.NoError(t, err)

	// η̂′(0) = 1, η̂″(0) = 0, η̂‴(0) = −1.
	d1, err := eng.EvaluateOrderDerivative([]float64{1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1, d1[0], 1e-4)

	d2, err := eng.EvaluateOrderDerivative([]float64{1}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, d2[0], 1e-3)

	d3, err := eng.EvaluateOrderDerivative([]float64{1}, 3)
	require.NoError(t, err)
	assert.InDelta(t, -1, d3[0], 1e-2)

	// The order-3 series tracks sin ε closely.
	s, err := eng.EvaluateTaylorSeries([]float64{0.3}, true, 3)
	require.NoError(t, err)
	assert.InDelta(t, math.Sin(0.3), s[0], 1e-3)

	// Re-basing at ε = 0.3 rebuilds the expansion against the new anchor.
	require.NoError(t, eng.SetBaseValues([]float64{math.Sin(0.3)}, []float64{0.3}, nil))
	assert.Equal(t, 3, eng.Order())

	d1, err = eng.EvaluateOrderDerivative([]float64{1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, math.Cos(0.3), d1[0], 1e-4)

	// A failed re-base keeps the previous anchor.
	err = eng.SetBaseValues([]float64{1}, []float64{0.3}, nil)
	assert.ErrorIs(t, err, ErrOptimality)
	d1, err = eng.EvaluateOrderDerivative([]float64{1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, math.Cos(0.3), d1[0], 1e-4)
}
