package pcs

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/parallel"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// Commitment is a Merkle root over Poseidon2 digests.
type Commitment = poseidon2.Digest

// Scheme is the two-adic FRI polynomial commitment scheme. One instance is
// shared by prover and verifier; it holds no per-proof state.
type Scheme struct {
	spec field.Spec
	perm *poseidon2.Permutation
}

// NewScheme builds a scheme from the field spec.
func NewScheme(spec field.Spec) *Scheme {
	return &Scheme{spec: spec, perm: poseidon2.New(spec)}
}

// Spec returns the parameter set the scheme was built with.
func (s *Scheme) Spec() field.Spec { return s.spec }

// Permutation exposes the shared Poseidon2 instance for challenger setup.
func (s *Scheme) Permutation() *poseidon2.Permutation { return s.perm }

// ProverData retains what Open needs about one committed batch: the
// coefficient form of every polynomial and the Merkle tree over the
// low-degree extensions.
type ProverData struct {
	coeffs []*matrix.Dense
	ldes   []*matrix.Dense
	tree   *merkleTree
}

// Commitment returns the root the batch was committed under.
func (d *ProverData) Commitment() Commitment { return d.tree.root() }

// CosetEvals evaluates matrix mi over the coset shift*H of size 2^logN. The
// coset must be at least as large as the trace domain.
func (d *ProverData) CosetEvals(mi int, logN int, shift field.Val) *matrix.Dense {
	cm := d.coeffs[mi]
	n := 1 << logN
	if n < cm.Height() {
		panic("pcs: coset smaller than trace domain")
	}
	out := matrix.NewDense(n, cm.Width)
	parallel.Execute(cm.Width, func(start, end int) {
		for col := start; col < end; col++ {
			cs := cm.Column(col)
			ext := make([]field.Val, n)
			sp := field.One()
			for r := 0; r < len(cs); r++ {
				ext[r] = field.Mul(cs[r], sp)
				sp = field.Mul(sp, shift)
			}
			field.NTT(ext)
			for r := range ext {
				out.Set(r, col, ext[r])
			}
		}
	})
	return out
}

// Commit interpolates each matrix over its trace domain, extends onto the
// canonical coset of 2^LogBlowup times the height, and Merkle-commits the
// extensions as one batch.
func (s *Scheme) Commit(mats []*matrix.Dense) (Commitment, *ProverData, error) {
	coeffs := make([]*matrix.Dense, len(mats))
	ldes := make([]*matrix.Dense, len(mats))
	for mi, m := range mats {
		h := m.Height()
		logLde := field.Log2Strict(h) + s.spec.LogBlowup
		shift := field.CanonicalShift(logLde)
		cm := matrix.NewDense(h, m.Width)
		lm := matrix.NewDense(h<<s.spec.LogBlowup, m.Width)
		parallel.Execute(m.Width, func(start, end int) {
			for col := start; col < end; col++ {
				cs := m.Column(col)
				field.INTT(cs)
				for r := 0; r < h; r++ {
					cm.Set(r, col, cs[r])
				}
				ext := make([]field.Val, h<<s.spec.LogBlowup)
				sp := field.One()
				for r := 0; r < h; r++ {
					ext[r] = field.Mul(cs[r], sp)
					sp = field.Mul(sp, shift)
				}
				field.NTT(ext)
				for r := range ext {
					lm.Set(r, col, ext[r])
				}
			}
		})
		coeffs[mi] = cm
		ldes[mi] = lm
	}
	tree, err := newMerkleTree(s.perm, ldes)
	if err != nil {
		return Commitment{}, nil, err
	}
	return tree.root(), &ProverData{coeffs: coeffs, ldes: ldes, tree: tree}, nil
}

// ProverRound is one committed batch with the points to open each matrix at.
type ProverRound struct {
	Data   *ProverData
	Points [][]field.Ext // per matrix
}

// BatchOpening carries the opened rows of one batch at one query index.
type BatchOpening struct {
	Rows  [][]field.Val `cbor:"1,keyasint"`
	Proof MerkleProof   `cbor:"2,keyasint"`
}

// Proof is the full opening argument for a set of rounds.
type Proof struct {
	Fri           FRIProof         `cbor:"1,keyasint"`
	QueryOpenings [][]BatchOpening `cbor:"2,keyasint"` // query -> round
}

// Open evaluates every polynomial at its requested points and proves the
// evaluations with one batched FRI argument. Returned values are indexed
// round, matrix, point, column.
func (s *Scheme) Open(rounds []ProverRound, challenger *poseidon2.Challenger) ([][][][]field.Ext, Proof, error) {
	alpha := challenger.SampleExt()

	values := make([][][][]field.Ext, len(rounds))
	reduced := map[int][]field.Ext{}
	alphaPow := field.ExtOne()
	logMax := 0

	for ri, round := range rounds {
		if len(round.Points) != len(round.Data.coeffs) {
			return nil, Proof{}, fmt.Errorf("pcs: round %d: %d point sets for %d matrices", ri, len(round.Points), len(round.Data.coeffs))
		}
		values[ri] = make([][][]field.Ext, len(round.Data.coeffs))
		for mi, cm := range round.Data.coeffs {
			lde := round.Data.ldes[mi]
			logLde := field.Log2Strict(lde.Height())
			if logLde > logMax {
				logMax = logLde
			}
			acc, ok := reduced[logLde]
			if !ok {
				acc = make([]field.Ext, lde.Height())
				reduced[logLde] = acc
			}

			colCoeffs := make([][]field.Val, cm.Width)
			for col := 0; col < cm.Width; col++ {
				colCoeffs[col] = cm.Column(col)
			}

			values[ri][mi] = make([][]field.Ext, len(round.Points[mi]))
			for pi, z := range round.Points[mi] {
				ys := make([]field.Ext, cm.Width)
				parallel.Execute(cm.Width, func(start, end int) {
					for col := start; col < end; col++ {
						ys[col] = field.EvalCoeffsExt(colCoeffs[col], z)
					}
				})
				values[ri][mi][pi] = ys

				weights := field.ExtPowers(alpha, cm.Width)
				for col := range weights {
					weights[col] = field.ExtMul(weights[col], alphaPow)
				}
				s.accumulateQuotient(acc, lde, logLde, z, ys, weights)
				alphaPow = field.ExtMul(alphaPow, field.ExtExpUint64(alpha, uint64(cm.Width)))
			}
		}
	}

	friProof, indices, err := friProve(s.spec, s.perm, reduced, challenger)
	if err != nil {
		return nil, Proof{}, err
	}

	queryOpenings := make([][]BatchOpening, len(indices))
	for qi, idx := range indices {
		queryOpenings[qi] = make([]BatchOpening, len(rounds))
		for ri, round := range rounds {
			treeLog := field.Log2Strict(round.Data.ldes[treeTallest(round.Data.ldes)].Height())
			rows, path := round.Data.tree.open(idx >> (logMax - treeLog))
			queryOpenings[qi][ri] = BatchOpening{Rows: rows, Proof: path}
		}
	}

	return values, Proof{Fri: friProof, QueryOpenings: queryOpenings}, nil
}

func treeTallest(ldes []*matrix.Dense) int {
	best := 0
	for i, m := range ldes {
		if m.Height() > ldes[best].Height() {
			best = i
		}
	}
	return best
}

// accumulateQuotient adds weights . (f(x) - y) / (x - z) into acc over the
// whole LDE domain.
func (s *Scheme) accumulateQuotient(acc []field.Ext, lde *matrix.Dense, logLde int, z field.Ext, ys []field.Ext, weights []field.Ext) {
	n := lde.Height()
	shift := field.CanonicalShift(logLde)
	g := field.TwoAdicGenerator(logLde)

	invDenoms := make([]field.Ext, n)
	x := shift
	for i := 0; i < n; i++ {
		invDenoms[i] = field.ExtSub(field.ExtFromBase(x), z)
		x = field.Mul(x, g)
	}
	field.ExtBatchInvert(invDenoms)

	// y-side of the numerator is row independent.
	yTerm := field.ExtZero()
	for col := range ys {
		yTerm = field.ExtAdd(yTerm, field.ExtMul(weights[col], ys[col]))
	}

	parallel.Execute(n, func(start, end int) {
		for i := start; i < end; i++ {
			row := lde.Row(i)
			num := field.ExtNeg(yTerm)
			for col := range row {
				num = field.ExtAdd(num, field.ExtMulBase(weights[col], row[col]))
			}
			acc[i] = field.ExtAdd(acc[i], field.ExtMul(num, invDenoms[i]))
		}
	})
}

// VerifierRound mirrors ProverRound on the verifying side: the commitment,
// the trace dimensions of each matrix, the points, and the claimed values.
type VerifierRound struct {
	Commit Commitment
	Mats   []MatDims      // trace dimensions, not LDE
	Points [][]field.Ext  // per matrix
	Values [][][]field.Ext // matrix -> point -> column
}

// Verify checks the opening proof against the claimed values.
func (s *Scheme) Verify(rounds []VerifierRound, proof Proof, challenger *poseidon2.Challenger) error {
	alpha := challenger.SampleExt()

	logMax := 0
	ldeDims := make([][]MatDims, len(rounds))
	for ri, round := range rounds {
		if len(round.Mats) != len(round.Points) || len(round.Mats) != len(round.Values) {
			return fmt.Errorf("pcs: round %d shape mismatch", ri)
		}
		ldeDims[ri] = make([]MatDims, len(round.Mats))
		for mi, d := range round.Mats {
			logLde := field.Log2Strict(d.Height) + s.spec.LogBlowup
			ldeDims[ri][mi] = MatDims{Width: d.Width, Height: 1 << logLde}
			if logLde > logMax {
				logMax = logLde
			}
		}
	}
	if len(proof.QueryOpenings) != s.spec.NumQueries {
		return fmt.Errorf("pcs: %d query openings, want %d", len(proof.QueryOpenings), s.spec.NumQueries)
	}

	queryNum := 0
	reduced := func(idx int) (map[int]field.Ext, error) {
		openings := proof.QueryOpenings[queryNum]
		queryNum++
		if len(openings) != len(rounds) {
			return nil, fmt.Errorf("pcs: opened %d rounds, want %d", len(openings), len(rounds))
		}
		out := map[int]field.Ext{}
		alphaPow := field.ExtOne()
		for ri, round := range rounds {
			treeLog := 0
			for _, d := range ldeDims[ri] {
				if lg := field.Log2Strict(d.Height); lg > treeLog {
					treeLog = lg
				}
			}
			treeIdx := idx >> (logMax - treeLog)
			if err := verifyMerkle(s.perm, round.Commit, ldeDims[ri], treeIdx, openings[ri].Rows, openings[ri].Proof); err != nil {
				return nil, fmt.Errorf("round %d: %w", ri, err)
			}
			for mi, d := range ldeDims[ri] {
				logLde := field.Log2Strict(d.Height)
				matIdx := idx >> (logMax - logLde)
				x := field.Mul(field.CanonicalShift(logLde), field.ExpUint64(field.TwoAdicGenerator(logLde), uint64(matIdx)))
				row := openings[ri].Rows[mi]
				for pi, z := range round.Points[mi] {
					ys := round.Values[mi][pi]
					if len(ys) != d.Width {
						return nil, fmt.Errorf("round %d matrix %d: %d values for width %d", ri, mi, len(ys), d.Width)
					}
					num := field.ExtZero()
					w := alphaPow
					for col := 0; col < d.Width; col++ {
						diff := field.ExtSub(field.ExtFromBase(row[col]), ys[col])
						num = field.ExtAdd(num, field.ExtMul(w, diff))
						w = field.ExtMul(w, alpha)
					}
					denom := field.ExtSub(field.ExtFromBase(x), z)
					cur := out[logLde]
					out[logLde] = field.ExtAdd(cur, field.ExtMul(num, field.ExtInv(denom)))
					alphaPow = field.ExtMul(alphaPow, field.ExtExpUint64(alpha, uint64(d.Width)))
				}
			}
		}
		return out, nil
	}

	return friVerify(s.spec, s.perm, proof.Fri, logMax, challenger, reduced)
}
