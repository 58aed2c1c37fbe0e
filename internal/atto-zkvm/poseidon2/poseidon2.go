// Package poseidon2 implements the Poseidon2 permutation over the native
// field, the sponge hasher backing Merkle commitments, and the duplex
// challenger that drives every Fiat-Shamir interaction.
package poseidon2

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Permutation is a fixed-width Poseidon2 permutation instance. It is
// stateless and safe for concurrent use.
type Permutation struct {
	spec     field.Spec
	external [][]field.Val
	internal []field.Val
	diag     []field.Val
}

// New builds the permutation for the given field spec.
func New(spec field.Spec) *Permutation {
	external, internal, diag := deriveConstants(spec)
	return &Permutation{
		spec:     spec,
		external: external,
		internal: internal,
		diag:     diag,
	}
}

// Width returns the permutation width.
func (p *Permutation) Width() int { return p.spec.Poseidon2Width }

// ExternalConstants returns the per-round external round constants.
func (p *Permutation) ExternalConstants() [][]field.Val { return p.external }

// InternalConstants returns the per-round internal round constants.
func (p *Permutation) InternalConstants() []field.Val { return p.internal }

// InternalDiag returns the diagonal of the internal linear layer.
func (p *Permutation) InternalDiag() []field.Val { return p.diag }

// Rate returns the sponge rate.
func (p *Permutation) Rate() int { return p.spec.Poseidon2Rate }

func (p *Permutation) sbox(x field.Val) field.Val {
	x2 := field.Mul(x, x)
	x3 := field.Mul(x2, x)
	if p.spec.SboxDegree == 3 {
		return x3
	}
	// degree 7
	x4 := field.Mul(x2, x2)
	return field.Mul(x3, x4)
}

// m4 is the 4x4 MDS block of the external linear layer.
var m4 = [4][4]uint32{
	{5, 7, 1, 3},
	{4, 6, 1, 1},
	{1, 3, 5, 7},
	{1, 1, 4, 6},
}

// ExternalLayer applies the external linear layer: the M4 block on every
// 4-lane group, then the cross-group lane sums.
func (p *Permutation) ExternalLayer(state []field.Val) {
	w := len(state)
	// M4 per group.
	for g := 0; g < w; g += 4 {
		var out [4]field.Val
		for i := 0; i < 4; i++ {
			var acc field.Val
			for j := 0; j < 4; j++ {
				c := field.FromUint32(m4[i][j])
				t := field.Mul(c, state[g+j])
				acc.Add(&acc, &t)
			}
			out[i] = acc
		}
		copy(state[g:g+4], out[:])
	}
	// Lane sums across groups.
	var sums [4]field.Val
	for i, v := range state {
		sums[i%4].Add(&sums[i%4], &v)
	}
	for i := range state {
		state[i].Add(&state[i], &sums[i%4])
	}
}

// InternalLayer applies the internal linear layer: state_i = diag_i *
// state_i + sum(state).
func (p *Permutation) InternalLayer(state []field.Val) {
	var sum field.Val
	for _, v := range state {
		sum.Add(&sum, &v)
	}
	for i := range state {
		state[i].Mul(&state[i], &p.diag[i])
		state[i].Add(&state[i], &sum)
	}
}

// Permute runs the full permutation in place. The external linear layer is
// applied once before round 0, then the first half of the full rounds, all
// partial rounds, and the second half of the full rounds.
func (p *Permutation) Permute(state []field.Val) {
	if len(state) != p.spec.Poseidon2Width {
		panic("poseidon2: state width mismatch")
	}
	half := p.spec.ExternalRounds / 2

	p.ExternalLayer(state)

	for r := 0; r < half; r++ {
		for i := range state {
			state[i].Add(&state[i], &p.external[r][i])
			state[i] = p.sbox(state[i])
		}
		p.ExternalLayer(state)
	}

	for r := 0; r < p.spec.InternalRounds; r++ {
		state[0].Add(&state[0], &p.internal[r])
		state[0] = p.sbox(state[0])
		p.InternalLayer(state)
	}

	for r := half; r < p.spec.ExternalRounds; r++ {
		for i := range state {
			state[i].Add(&state[i], &p.external[r][i])
			state[i] = p.sbox(state[i])
		}
		p.ExternalLayer(state)
	}
}

// DigestWidth is the number of field elements in a sponge digest.
const DigestWidth = 8

// Digest is a Poseidon2 hash output.
type Digest [DigestWidth]field.Val

// HashSlice absorbs vs with the standard overwrite-mode sponge and returns
// the digest.
func (p *Permutation) HashSlice(vs []field.Val) Digest {
	state := make([]field.Val, p.Width())
	rate := p.Rate()
	for start := 0; start < len(vs); start += rate {
		end := start + rate
		if end > len(vs) {
			end = len(vs)
		}
		copy(state[:end-start], vs[start:end])
		p.Permute(state)
	}
	var out Digest
	copy(out[:], state[:DigestWidth])
	return out
}

// Compress is the 2-to-1 compression used inside Merkle trees.
func (p *Permutation) Compress(left, right Digest) Digest {
	state := make([]field.Val, p.Width())
	copy(state[:DigestWidth], left[:])
	copy(state[DigestWidth:], right[:])
	p.Permute(state)
	var out Digest
	copy(out[:], state[:DigestWidth])
	return out
}
