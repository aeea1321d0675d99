// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensitivity

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stateless operations over collections of DerivativeTerm: consolidation,
// summed evaluation, base-term generation and the implicit-function linear
// solve that produces the next unknown 𝛈̂ derivative.

func signature(t *DerivativeTerm) string {
	return fmt.Sprintf("%d|%v", t.epsOrder, t.etaOrders)
}

// Consolidate merges terms sharing the same derivative signature by summing
// their prefactors. The merge is commutative and associative, so the result
// does not depend on the input ordering; the surviving terms keep the order
// of their first occurrence.
func Consolidate(terms []*DerivativeTerm) []*DerivativeTerm {
	out := make([]*DerivativeTerm, 0, len(terms))
	seen := make(map[string]int, len(terms))
	for _, t := range terms {
		key := signature(t)
		if i, ok := seen[key]; ok {
			merged, err := out[i].CombineWith(t)
			if err != nil {
				panic("sensitivity: consolidation of similar terms failed")
			}
			out[i] = merged
			continue
		}
		seen[key] = len(out)
		out = append(out, t)
	}
	return out
}

// EvaluateSum sums Evaluate over the list. When includeTop is false, terms
// whose trailing eta order is nonzero are excluded, isolating the
// contribution of the already-known derivatives from the single unknown
// top-order term. Returns nil when no term qualifies.
func EvaluateSum(terms []*DerivativeTerm, eta0, eps0, deps []float64, includeTop bool) []float64 {
	var sum []float64
	for _, t := range terms {
		if !includeTop && len(t.etaOrders) > 0 && t.etaOrders[len(t.etaOrders)-1] != 0 {
			continue
		}
		v := t.Evaluate(eta0, eps0, deps)
		if sum == nil {
			sum = v
			continue
		}
		for i := range sum {
			sum[i] += v[i]
		}
	}
	return sum
}

// BaseTerms returns the two order-1 terms of
// d[∇𝛈𝒇(𝛈̂(𝛆), 𝛆)]/d𝛆: the direct 𝛆 partial and the chain-rule 𝛈 partial.
func BaseTerms(table *Table) ([]*DerivativeTerm, error) {
	dEps, err := NewDerivativeTerm(1, []int{0}, 1, nil, table)
	if err != nil {
		return nil, err
	}
	dEta, err := NewDerivativeTerm(0, []int{1}, 1, nil, table)
	if err != nil {
		return nil, err
	}
	return []*DerivativeTerm{dEps, dEta}, nil
}

// SolveNextEtaDerivative closes the implicit-function recursion: since the
// stationarity condition differentiates to zero at every order, the unknown
// top-order derivative satisfies H·x = −Σ(known terms), with the same
// Hessian factorization at every order.
func SolveNextEtaDerivative(chol *mat.Cholesky, terms []*DerivativeTerm,
	eta0, eps0, deps []float64) ([]float64, error) {

	rhs := EvaluateSum(terms, eta0, eps0, deps, false)
	if rhs == nil {
		return nil, fmt.Errorf("%w: no known terms to solve against", ErrConstruction)
	}
	n := chol.SymmetricDim()
	if len(rhs) != n {
		return nil, fmt.Errorf("%w: rhs length %d, factorization dimension %d",
			ErrDimension, len(rhs), n)
	}
	for i := range rhs {
		rhs[i] = -rhs[i]
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(n, rhs)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLinAlg, err)
	}
	return x.RawVector().Data, nil
}

// NextOrderTerms differentiates every term once more with respect to 𝛆,
// using the implicit solve over the current terms as the evaluator for the
// new highest 𝛈̂ derivative, and consolidates the result.
func NextOrderTerms(chol *mat.Cholesky, terms []*DerivativeTerm) ([]*DerivativeTerm, error) {
	next := solveEvaluator(chol, terms)
	out := make([]*DerivativeTerm, 0, 3*len(terms))
	for _, t := range terms {
		d, err := t.Differentiate(next)
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
	}
	return Consolidate(out), nil
}

// The evaluator is a pure function of the factorization and an immutable
// term list; it never captures engine state.
func solveEvaluator(chol *mat.Cholesky, terms []*DerivativeTerm) EtaDeriv {
	return func(eta0, eps0, deps []float64) []float64 {
		x, err := SolveNextEtaDerivative(chol, terms, eta0, eps0, deps)
		if err != nil {
			panic(fmt.Sprintf("sensitivity: implicit solve failed: %v", err))
		}
		return x
	}
}
