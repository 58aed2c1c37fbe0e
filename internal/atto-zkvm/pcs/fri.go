package pcs

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// FRI config lives in the field spec: LogBlowup, NumQueries, GrindingBits.
//
// Folding works over the canonical cosets of field.CanonicalShift, whose
// shifts square down the chain, so a reduced-opening vector of any size can
// be injected at the layer of matching size without re-mapping points.

// CommitStepOpening is one opened fold pair with its path.
type CommitStepOpening struct {
	Pair  [2 * field.ExtDegree]field.Val `cbor:"1,keyasint"`
	Proof MerkleProof                    `cbor:"2,keyasint"`
}

// FRIQueryProof holds the per-layer openings for one query.
type FRIQueryProof struct {
	Steps []CommitStepOpening `cbor:"1,keyasint"`
}

// FRIProof is the full low-degree argument.
type FRIProof struct {
	CommitPhaseCommits []poseidon2.Digest `cbor:"1,keyasint"`
	Queries            []FRIQueryProof    `cbor:"2,keyasint"`
	FinalValue         field.Ext          `cbor:"3,keyasint"`
	PowWitness         field.Val          `cbor:"4,keyasint"`
}

type friCommitLayer struct {
	tree *merkleTree
	beta field.Ext
}

// friProve runs the commit and query phases over the reduced-opening
// vectors, keyed by log2 of their length. Vectors are evaluations over the
// canonical coset of their size, natural order. Returns the proof and the
// sampled query indices into the largest domain, for the caller to attach
// input openings.
func friProve(spec field.Spec, perm *poseidon2.Permutation, inputs map[int][]field.Ext, challenger *poseidon2.Challenger) (FRIProof, []int, error) {
	logMax := -1
	for lg := range inputs {
		if lg > logMax {
			logMax = lg
		}
	}
	if logMax < 0 {
		return FRIProof{}, nil, fmt.Errorf("pcs: fri called with no inputs")
	}
	if logMax < spec.LogBlowup {
		return FRIProof{}, nil, fmt.Errorf("pcs: fri input smaller than blowup")
	}

	cur := append([]field.Ext(nil), inputs[logMax]...)
	var layers []friCommitLayer
	var commits []poseidon2.Digest

	for lg := logMax; lg > spec.LogBlowup; lg-- {
		n := 1 << lg
		half := n / 2
		// Commit to fold pairs (f(x), f(-x)) flattened to base columns.
		pairMat := matrix.NewDense(half, 2*field.ExtDegree)
		for i := 0; i < half; i++ {
			row := pairMat.Row(i)
			l0 := field.ExtLimbs(cur[i])
			l1 := field.ExtLimbs(cur[i+half])
			copy(row[:field.ExtDegree], l0[:])
			copy(row[field.ExtDegree:], l1[:])
		}
		tree, err := newMerkleTree(perm, []*matrix.Dense{pairMat})
		if err != nil {
			return FRIProof{}, nil, err
		}
		challenger.ObserveDigest(tree.root())
		beta := challenger.SampleExt()
		layers = append(layers, friCommitLayer{tree: tree, beta: beta})
		commits = append(commits, tree.root())

		cur = friFold(cur, beta, lg)
		if inj, ok := inputs[lg-1]; ok {
			for i := range cur {
				cur[i] = field.ExtAdd(cur[i], inj[i])
			}
		}
	}

	finalValue := cur[0]
	for i := 1; i < len(cur); i++ {
		if !field.ExtEqual(cur[i], finalValue) {
			return FRIProof{}, nil, fmt.Errorf("pcs: folded polynomial is not constant; some trace is not low degree")
		}
	}
	challenger.ObserveExt(finalValue)

	witness := challenger.Grind(spec.GrindingBits)

	indices := make([]int, spec.NumQueries)
	queries := make([]FRIQueryProof, spec.NumQueries)
	for q := range queries {
		idx := int(challenger.SampleBits(logMax))
		indices[q] = idx
		var qp FRIQueryProof
		i := idx
		for li, layer := range layers {
			n := 1 << (logMax - li)
			pairRow := (i & (n - 1)) & (n/2 - 1)
			rows, path := layer.tree.open(pairRow)
			var step CommitStepOpening
			copy(step.Pair[:], rows[0])
			step.Proof = path
			qp.Steps = append(qp.Steps, step)
			i = pairRow
		}
		queries[q] = qp
	}

	return FRIProof{
		CommitPhaseCommits: commits,
		Queries:            queries,
		FinalValue:         finalValue,
		PowWitness:         witness,
	}, indices, nil
}

// friFold maps evaluations over the size-2^lg canonical coset to the
// even/odd combination over the half-size coset:
//
//	f'(x^2) = (f(x) + f(-x))/2 + beta * (f(x) - f(-x))/(2x)
func friFold(cur []field.Ext, beta field.Ext, lg int) []field.Ext {
	half := len(cur) / 2
	next := make([]field.Ext, half)
	shift := field.CanonicalShift(lg)
	g := field.TwoAdicGenerator(lg)
	halfInv := field.Inv(field.FromUint32(2))

	x := shift
	for i := 0; i < half; i++ {
		e0, e1 := cur[i], cur[i+half]
		sum := field.ExtMulBase(field.ExtAdd(e0, e1), halfInv)
		diff := field.ExtMulBase(field.ExtSub(e0, e1), field.Mul(halfInv, field.Inv(x)))
		next[i] = field.ExtAdd(sum, field.ExtMul(beta, diff))
		x = field.Mul(x, g)
	}
	return next
}

// friVerify replays the transcript and checks every query path. reduced maps
// log size to the reduced-opening evaluation at the query index for that
// size; the callback is invoked once per query with the index into the
// largest domain and must return the same values the prover folded in.
func friVerify(spec field.Spec, perm *poseidon2.Permutation, proof FRIProof, logMax int, challenger *poseidon2.Challenger, reduced func(query int) (map[int]field.Ext, error)) error {
	if len(proof.CommitPhaseCommits) != logMax-spec.LogBlowup {
		return fmt.Errorf("pcs: %d fri layers, want %d", len(proof.CommitPhaseCommits), logMax-spec.LogBlowup)
	}
	betas := make([]field.Ext, len(proof.CommitPhaseCommits))
	for i, c := range proof.CommitPhaseCommits {
		challenger.ObserveDigest(c)
		betas[i] = challenger.SampleExt()
	}
	challenger.ObserveExt(proof.FinalValue)

	if !challenger.CheckWitness(spec.GrindingBits, proof.PowWitness) {
		return fmt.Errorf("pcs: proof-of-work witness rejected")
	}
	challenger.Observe(proof.PowWitness)

	if len(proof.Queries) != spec.NumQueries {
		return fmt.Errorf("pcs: %d queries, want %d", len(proof.Queries), spec.NumQueries)
	}
	halfInv := field.Inv(field.FromUint32(2))

	for q, qp := range proof.Queries {
		idx := int(challenger.SampleBits(logMax))
		values, err := reduced(idx)
		if err != nil {
			return fmt.Errorf("pcs: query %d: %w", q, err)
		}
		if len(qp.Steps) != len(betas) {
			return fmt.Errorf("pcs: query %d has %d steps, want %d", q, len(qp.Steps), len(betas))
		}

		expected := values[logMax]
		i := idx
		for li, step := range qp.Steps {
			lg := logMax - li
			n := 1 << lg
			i &= n - 1
			pairRow := i & (n/2 - 1)

			dims := []MatDims{{Width: 2 * field.ExtDegree, Height: n / 2}}
			if err := verifyMerkle(perm, proof.CommitPhaseCommits[li], dims, pairRow, [][]field.Val{step.Pair[:]}, step.Proof); err != nil {
				return fmt.Errorf("pcs: query %d layer %d: %w", q, li, err)
			}
			var l0, l1 [field.ExtDegree]field.Val
			copy(l0[:], step.Pair[:field.ExtDegree])
			copy(l1[:], step.Pair[field.ExtDegree:])
			e0 := field.ExtFromLimbs(l0)
			e1 := field.ExtFromLimbs(l1)

			opened := e0
			if i >= n/2 {
				opened = e1
			}
			if !field.ExtEqual(opened, expected) {
				return fmt.Errorf("pcs: query %d layer %d: opened value disagrees with fold", q, li)
			}

			x := field.Mul(field.CanonicalShift(lg), field.ExpUint64(field.TwoAdicGenerator(lg), uint64(pairRow)))
			sum := field.ExtMulBase(field.ExtAdd(e0, e1), halfInv)
			diff := field.ExtMulBase(field.ExtSub(e0, e1), field.Mul(halfInv, field.Inv(x)))
			expected = field.ExtAdd(sum, field.ExtMul(betas[li], diff))
			if inj, ok := values[lg-1]; ok {
				expected = field.ExtAdd(expected, inj)
			}
			i = pairRow
		}
		if !field.ExtEqual(expected, proof.FinalValue) {
			return fmt.Errorf("pcs: query %d does not reach the final value", q)
		}
	}
	return nil
}
