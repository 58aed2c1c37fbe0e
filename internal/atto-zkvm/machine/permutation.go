package machine

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/parallel"
)

// The lookup argument turns every regional lookup tuple into a
// log-derivative term mult / (alpha + beta^0*kind + sum beta^(i+1)*v_i).
// Looking tuples enter with positive sign, looked with negative; if the
// multisets agree, everything telescopes to zero.
//
// Per chip the terms are grouped into batches of BatchSize, one extension
// column per batch, plus a trailing running-sum column whose last row is
// the chip's cumulative sum.

// PermChallenges are the two Fiat-Shamir challenges of the argument.
type PermChallenges struct {
	Alpha field.Ext
	Beta  field.Ext
}

// fingerprintExprs evaluates one lookup's denominator under an env.
func lookupDenominator(lk Lookup, env *EvalEnv, ch PermChallenges) field.Ext {
	betaPow := field.ExtFromBase(field.One())
	acc := field.ExtAdd(ch.Alpha, field.ExtMulBase(betaPow, field.FromUint32(uint32(lk.Type))))
	for _, v := range lk.Values {
		betaPow = field.ExtMul(betaPow, ch.Beta)
		acc = field.ExtAdd(acc, field.ExtMul(betaPow, Eval(v, env)))
	}
	return acc
}

func lookupSignedMult(lk Lookup, env *EvalEnv) field.Ext {
	m := Eval(lk.Mult, env)
	if lk.IsLooked {
		return field.ExtNeg(m)
	}
	return m
}

func rowEnv(pre *matrix.Dense, main *matrix.Dense, pvs []field.Ext, row int) *EvalEnv {
	h := main.Height()
	next := (row + 1) % h
	env := &EvalEnv{Public: pvs}
	env.MainLocal = embedRow(main.Row(row))
	env.MainNext = embedRow(main.Row(next))
	if pre != nil {
		env.PreLocal = embedRow(pre.Row(row))
		env.PreNext = embedRow(pre.Row(next))
	}
	return env
}

func embedRow(row []field.Val) []field.Ext {
	out := make([]field.Ext, len(row))
	for i, v := range row {
		out[i] = field.ExtFromBase(v)
	}
	return out
}

// GeneratePermutation builds a chip's permutation trace and returns it with
// the chip's cumulative sum. Returns a zero-width matrix for chips with no
// regional lookups.
func GeneratePermutation(meta *MetaChip, pre *matrix.Dense, main *matrix.Dense, pvs []field.Ext, ch PermChallenges) (*matrix.ExtDense, field.Ext) {
	lks := meta.RegionalLookups()
	width := meta.PermutationWidth()
	h := main.Height()
	perm := matrix.NewExtDense(h, width)
	if width == 0 {
		return perm, field.ExtZero()
	}
	batch := meta.BatchSize()
	numBatches := width - 1

	// Denominators for every (row, lookup), batch-inverted.
	denoms := make([]field.Ext, h*len(lks))
	mults := make([]field.Ext, h*len(lks))
	parallel.Execute(h, func(start, end int) {
		for row := start; row < end; row++ {
			env := rowEnv(pre, main, pvs, row)
			for li, lk := range lks {
				denoms[row*len(lks)+li] = lookupDenominator(lk, env, ch)
				mults[row*len(lks)+li] = lookupSignedMult(lk, env)
			}
		}
	})
	field.ExtBatchInvert(denoms)

	parallel.Execute(h, func(start, end int) {
		for row := start; row < end; row++ {
			prow := perm.Row(row)
			for bi := 0; bi < numBatches; bi++ {
				acc := field.ExtZero()
				for li := bi * batch; li < len(lks) && li < (bi+1)*batch; li++ {
					acc = field.ExtAdd(acc, field.ExtMul(mults[row*len(lks)+li], denoms[row*len(lks)+li]))
				}
				prow[bi] = acc
			}
		}
	})

	// Running sum column.
	phi := field.ExtZero()
	for row := 0; row < h; row++ {
		prow := perm.Row(row)
		for bi := 0; bi < numBatches; bi++ {
			phi = field.ExtAdd(phi, prow[bi])
		}
		prow[width-1] = phi
	}
	return perm, phi
}

// extBasis returns the j-th basis element of the extension over the base.
func extBasis(j int) field.Ext {
	var limbs [field.ExtDegree]field.Val
	limbs[j] = field.One()
	return field.ExtFromLimbs(limbs)
}

// ReassembleExt recombines flattened limb evaluations into extension
// values: committed permutation columns are base limbs, and any evaluation
// of them (coset row or opened point) recombines linearly.
func ReassembleExt(limbEvals []field.Ext) []field.Ext {
	if len(limbEvals)%field.ExtDegree != 0 {
		panic("machine: flattened width not a multiple of the extension degree")
	}
	out := make([]field.Ext, len(limbEvals)/field.ExtDegree)
	for c := range out {
		acc := field.ExtZero()
		for j := 0; j < field.ExtDegree; j++ {
			acc = field.ExtAdd(acc, field.ExtMul(limbEvals[c*field.ExtDegree+j], extBasis(j)))
		}
		out[c] = acc
	}
	return out
}

// EvalPermutation folds the permutation-argument constraints through
// accumulate, exactly once per constraint, in a fixed order shared by the
// prover's quotient pass and the verifier's reconstruction at zeta.
//
// permLocal/permNext are the chip's extension columns at the evaluation
// point; cumSum is the chip's claimed cumulative sum.
func EvalPermutation(meta *MetaChip, env *EvalEnv, permLocal, permNext []field.Ext, ch PermChallenges, cumSum field.Ext, accumulate func(field.Ext)) {
	lks := meta.RegionalLookups()
	if len(lks) == 0 {
		return
	}
	batch := meta.BatchSize()
	width := meta.PermutationWidth()
	numBatches := width - 1

	// Batch column correctness:
	// col_j * prod(denoms) == sum_k mult_k * prod(denoms except k)
	for bi := 0; bi < numBatches; bi++ {
		lo := bi * batch
		hi := min(lo+batch, len(lks))
		prodAll := field.ExtFromBase(field.One())
		denoms := make([]field.Ext, 0, hi-lo)
		for li := lo; li < hi; li++ {
			d := lookupDenominator(lks[li], env, ch)
			denoms = append(denoms, d)
			prodAll = field.ExtMul(prodAll, d)
		}
		rhs := field.ExtZero()
		for k := range denoms {
			term := lookupSignedMult(lks[lo+k], env)
			for l := range denoms {
				if l != k {
					term = field.ExtMul(term, denoms[l])
				}
			}
			rhs = field.ExtAdd(rhs, term)
		}
		lhs := field.ExtMul(permLocal[bi], prodAll)
		accumulate(field.ExtSub(lhs, rhs))
	}

	// Running-sum boundaries.
	rowSumLocal := field.ExtZero()
	for bi := 0; bi < numBatches; bi++ {
		rowSumLocal = field.ExtAdd(rowSumLocal, permLocal[bi])
	}
	rowSumNext := field.ExtZero()
	for bi := 0; bi < numBatches; bi++ {
		rowSumNext = field.ExtAdd(rowSumNext, permNext[bi])
	}
	phiLocal := permLocal[width-1]
	phiNext := permNext[width-1]

	accumulate(field.ExtMul(env.Sel.IsFirstRow, field.ExtSub(phiLocal, rowSumLocal)))
	accumulate(field.ExtMul(env.Sel.IsTransition, field.ExtSub(field.ExtSub(phiNext, phiLocal), rowSumNext)))
	accumulate(field.ExtMul(env.Sel.IsLastRow, field.ExtSub(phiLocal, cumSum)))
}

// NumPermConstraints is how many constraints EvalPermutation accumulates,
// needed to keep the alpha-power folding aligned between prover and
// verifier.
func NumPermConstraints(meta *MetaChip) int {
	if meta.PermutationWidth() == 0 {
		return 0
	}
	return (meta.PermutationWidth() - 1) + 3
}
