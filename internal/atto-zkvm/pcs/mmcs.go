// Package pcs implements the polynomial commitment scheme behind the STARK
// prover: Merkle commitments to batches of trace matrices over Poseidon2,
// and a two-adic FRI low-degree argument for the out-of-domain openings.
package pcs

import (
	"fmt"
	"sort"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/parallel"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// MerkleProof is the sibling path for one opened index, leaf upward.
type MerkleProof struct {
	Siblings []poseidon2.Digest `cbor:"1,keyasint"`
}

// merkleTree commits to a batch of matrices whose heights are powers of two
// but need not match. Matrices of height h contribute their rows at the tree
// level with h nodes: the tallest matrices hash into the leaves, and shorter
// ones are compressed in as the tree narrows.
type merkleTree struct {
	perm *poseidon2.Permutation
	// matrices sorted by height, tallest first; order preserves the caller's
	// order among equal heights.
	mats   []*matrix.Dense
	perm2m []int // tree order -> caller order
	levels [][]poseidon2.Digest
}

func newMerkleTree(perm *poseidon2.Permutation, mats []*matrix.Dense) (*merkleTree, error) {
	if len(mats) == 0 {
		return nil, fmt.Errorf("pcs: cannot commit to an empty batch")
	}
	order := make([]int, len(mats))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return mats[order[a]].Height() > mats[order[b]].Height()
	})
	sorted := make([]*matrix.Dense, len(mats))
	for i, j := range order {
		sorted[i] = mats[j]
		field.Log2Strict(mats[j].Height())
	}
	t := &merkleTree{perm: perm, mats: sorted, perm2m: order}
	t.build()
	return t, nil
}

func (t *merkleTree) build() {
	maxH := t.mats[0].Height()
	leaves := make([]poseidon2.Digest, maxH)
	parallel.Execute(maxH, func(start, end int) {
		var row []field.Val
		for i := start; i < end; i++ {
			row = row[:0]
			for _, m := range t.mats {
				if m.Height() != maxH {
					break
				}
				row = append(row, m.Row(i)...)
			}
			leaves[i] = t.perm.HashSlice(row)
		}
	})
	t.levels = [][]poseidon2.Digest{leaves}

	cur := leaves
	for len(cur) > 1 {
		half := len(cur) / 2
		next := make([]poseidon2.Digest, half)
		injected := t.matsAtHeight(half)
		parallel.Execute(half, func(start, end int) {
			var row []field.Val
			for i := start; i < end; i++ {
				d := t.perm.Compress(cur[2*i], cur[2*i+1])
				if len(injected) > 0 {
					row = row[:0]
					for _, m := range injected {
						row = append(row, m.Row(i)...)
					}
					d = t.perm.Compress(d, t.perm.HashSlice(row))
				}
				next[i] = d
			}
		})
		t.levels = append(t.levels, next)
		cur = next
	}
}

func (t *merkleTree) matsAtHeight(h int) []*matrix.Dense {
	var out []*matrix.Dense
	for _, m := range t.mats {
		if m.Height() == h {
			out = append(out, m)
		}
	}
	return out
}

func (t *merkleTree) root() poseidon2.Digest {
	return t.levels[len(t.levels)-1][0]
}

// open returns the rows of every matrix at the index projected to that
// matrix's height, in the caller's original matrix order, plus the sibling
// path. index addresses the tallest matrices' rows.
func (t *merkleTree) open(index int) ([][]field.Val, MerkleProof) {
	maxH := t.mats[0].Height()
	rows := make([][]field.Val, len(t.mats))
	for tp, m := range t.mats {
		shift := field.Log2Strict(maxH) - field.Log2Strict(m.Height())
		r := m.Row(index >> shift)
		rows[t.perm2m[tp]] = append([]field.Val(nil), r...)
	}
	var proof MerkleProof
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		proof.Siblings = append(proof.Siblings, level[idx^1])
		idx >>= 1
	}
	return rows, proof
}

// MatDims describes one committed matrix for verification.
type MatDims struct {
	Width  int
	Height int
}

// verifyMerkle checks opened rows against a root. rows is in the caller's
// matrix order and dims must match the committed shapes exactly.
func verifyMerkle(perm *poseidon2.Permutation, root poseidon2.Digest, dims []MatDims, index int, rows [][]field.Val, proof MerkleProof) error {
	if len(rows) != len(dims) {
		return fmt.Errorf("pcs: opened %d rows for %d matrices", len(rows), len(dims))
	}
	maxH := 0
	for i, d := range dims {
		if len(rows[i]) != d.Width {
			return fmt.Errorf("pcs: matrix %d row width %d, want %d", i, len(rows[i]), d.Width)
		}
		if d.Height > maxH {
			maxH = d.Height
		}
	}
	logMax := field.Log2Strict(maxH)
	if len(proof.Siblings) != logMax {
		return fmt.Errorf("pcs: merkle path length %d, want %d", len(proof.Siblings), logMax)
	}
	if index < 0 || index >= maxH {
		return fmt.Errorf("pcs: opening index %d out of range", index)
	}

	// Re-sort to tree order: height descending, stable.
	order := make([]int, len(dims))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dims[order[a]].Height > dims[order[b]].Height
	})

	rowAtHeight := func(h int) []field.Val {
		var flat []field.Val
		for _, j := range order {
			if dims[j].Height == h {
				flat = append(flat, rows[j]...)
			}
		}
		return flat
	}

	d := perm.HashSlice(rowAtHeight(maxH))
	idx := index
	size := maxH
	for _, sib := range proof.Siblings {
		if idx&1 == 0 {
			d = perm.Compress(d, sib)
		} else {
			d = perm.Compress(sib, d)
		}
		idx >>= 1
		size >>= 1
		if inj := rowAtHeight(size); len(inj) > 0 {
			d = perm.Compress(d, perm.HashSlice(inj))
		}
	}
	if d != root {
		return fmt.Errorf("pcs: merkle root mismatch at index %d", index)
	}
	return nil
}
