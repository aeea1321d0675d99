// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func termSignatures(terms []*DerivativeTerm) map[string]float64 {
	m := make(map[string]float64, len(terms))
	for _, t := range terms {
		m[signature(t)] += t.Prefactor()
	}
	return m
}

func TestBaseTerms(t *testing.T) {
	tab := quadTable(t, 2)
	terms, err := BaseTerms(tab)
	require.NoError(t, err)
	require.Len(t, terms, 2)

	assert.Equal(t, 1, terms[0].EpsOrder())
	assert.Equal(t, []int{0}, terms[0].EtaOrders())
	assert.Equal(t, 1.0, terms[0].Prefactor())

	assert.Equal(t, 0, terms[1].EpsOrder())
	assert.Equal(t, []int{1}, terms[1].EtaOrders())
	assert.Equal(t, 1.0, terms[1].Prefactor())
}

func TestConsolidate(t *testing.T) {
	tab := quadTable(t, 4)
	chol := quadChol(t)

	base, err := BaseTerms(tab)
	require.NoError(t, err)

	// Raw differentiation of the order-2 list produces duplicates.
	order2, err := NextOrderTerms(chol, base)
	require.NoError(t, err)
	next := solveEvaluator(chol, order2)
	var raw []*DerivativeTerm
	for _, term := range order2 {
		d, err := term.Differentiate(next)
		require.NoError(t, err)
		raw = append(raw, d...)
	}

	once := Consolidate(raw)
	assert.Less(t, len(once), len(raw))
	assert.Equal(t, termSignatures(raw), termSignatures(once))

	// Idempotent.
	twice := Consolidate(once)
	assert.Equal(t, termSignatures(once), termSignatures(twice))
	assert.Len(t, twice, len(once))

	// Independent of input ordering.
	shuffled := slices.Clone(raw)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	assert.Equal(t, termSignatures(once), termSignatures(Consolidate(shuffled)))
}

func TestNextOrderTerms(t *testing.T) {
	tab := quadTable(t, 3)
	chol := quadChol(t)

	base, err := BaseTerms(tab)
	require.NoError(t, err)

	// d²/d𝛆² of the stationarity condition has exactly four consolidated
	// terms: g𝛆𝛆, 2·g𝛈𝛆·𝛈̂′, g𝛈𝛈·𝛈̂′𝛈̂′ and g𝛈·𝛈̂″.
	order2, err := NextOrderTerms(chol, base)
	require.NoError(t, err)
	require.Len(t, order2, 4)

	want := map[string]float64{
		"2|[0 0]": 1,
		"1|[1 0]": 2,
		"0|[2 0]": 1,
		"0|[0 1]": 1,
	}
	assert.Equal(t, want, termSignatures(order2))
}

func TestEvaluateSum(t *testing.T) {
	tab := quadTable(t, 2)

	eta0 := []float64{0, 0}
	eps0 := []float64{0, 0}
	deps := []float64{1, -1}

	base, err := BaseTerms(tab)
	require.NoError(t, err)

	// Excluding the top eta order isolates the known contribution:
	// only the direct 𝛆 term B·Δ𝛆 survives in the base list.
	known := EvaluateSum(base, eta0, eps0, deps, false)
	want := []float64{quadB[0] - quadB[1], quadB[2] - quadB[3]}
	assert.InDeltaSlice(t, want, known, 1e-10)

	// Additive over concatenation.
	a := base[:1]
	b := base[:1]
	sumA := EvaluateSum(a, eta0, eps0, deps, false)
	concat := EvaluateSum(append(slices.Clone(a), b...), eta0, eps0, deps, false)
	for i := range concat {
		assert.InDelta(t, 2*sumA[i], concat[i], 1e-12)
	}

	// Nothing to evaluate yields nil.
	assert.Nil(t, EvaluateSum(base[1:], eta0, eps0, deps, false))
}

func TestSolveNextEtaDerivative(t *testing.T) {
	tab := quadTable(t, 2)
	chol := quadChol(t)

	base, err := BaseTerms(tab)
	require.NoError(t, err)

	eta0 := []float64{0, 0}
	eps0 := []float64{0, 0}
	deps := []float64{0.7, -0.3}

	x, err := SolveNextEtaDerivative(chol, base, eta0, eps0, deps)
	require.NoError(t, err)

	// The implicit solve reproduces −A⁻¹B·Δ𝛆.
	var want mat.VecDense
	want.MulVec(quadSens(t), mat.NewVecDense(2, deps))
	assert.InDeltaSlice(t, want.RawVector().Data, x, 1e-10)

	// No known terms to solve against.
	_, err = SolveNextEtaDerivative(chol, base[1:], eta0, eps0, deps)
	assert.ErrorIs(t, err, ErrConstruction)

	// Dimension mismatch between terms and factorization.
	small := new(mat.Cholesky)
	require.True(t, small.Factorize(mat.NewSymDense(1, []float64{1})))
	_, err = SolveNextEtaDerivative(small, base, eta0, eps0, deps)
	assert.ErrorIs(t, err, ErrDimension)
}
