package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

const feltBits = 31

// CircuitChallenger replays the duplex-sponge transcript over IR cells.
// It mirrors poseidon2.Challenger operation for operation: the same
// observations in the same order squeeze cells that the runtime resolves
// to the same challenges the native verifier would sample.
type CircuitChallenger struct {
	b      *Builder
	spec   field.Spec
	state  []Felt
	input  []Felt
	output []Felt
}

// NewCircuitChallenger returns a fresh in-circuit transcript.
func NewCircuitChallenger(b *Builder, spec field.Spec) *CircuitChallenger {
	state := make([]Felt, spec.Poseidon2Width)
	for i := range state {
		state[i] = b.Zero()
	}
	return &CircuitChallenger{b: b, spec: spec, state: state}
}

func (c *CircuitChallenger) clone() *CircuitChallenger {
	dup := &CircuitChallenger{b: c.b, spec: c.spec}
	dup.state = append([]Felt(nil), c.state...)
	dup.input = append([]Felt(nil), c.input...)
	dup.output = append([]Felt(nil), c.output...)
	return dup
}

func (c *CircuitChallenger) duplex() {
	var lanes [16]Felt
	copy(lanes[:], c.state)
	copy(lanes[:len(c.input)], c.input)
	c.input = c.input[:0]
	out := c.b.Poseidon2(lanes)
	c.state = append(c.state[:0], out[:]...)
	c.output = append(c.output[:0], c.state[:c.spec.Poseidon2Rate]...)
}

// Observe absorbs one base cell.
func (c *CircuitChallenger) Observe(v Felt) {
	c.output = c.output[:0]
	c.input = append(c.input, v)
	if len(c.input) == c.spec.Poseidon2Rate {
		c.duplex()
	}
}

// ObserveSlice absorbs vs in order.
func (c *CircuitChallenger) ObserveSlice(vs []Felt) {
	for _, v := range vs {
		c.Observe(v)
	}
}

// Sample squeezes one base cell.
func (c *CircuitChallenger) Sample() Felt {
	if len(c.input) > 0 || len(c.output) == 0 {
		c.duplex()
	}
	v := c.output[len(c.output)-1]
	c.output = c.output[:len(c.output)-1]
	return v
}

// SampleExt squeezes four base cells and recombines them into one
// extension cell.
func (c *CircuitChallenger) SampleExt() ExtVar {
	var limbs [field.ExtDegree]Felt
	for i := range limbs {
		limbs[i] = c.Sample()
	}
	return c.b.LimbsToExt(limbs)
}

// SampleBits squeezes one cell and returns its low bits as constrained
// boolean cells, little-endian.
func (c *CircuitChallenger) SampleBits(bits int) []Felt {
	if bits <= 0 || bits > 27 {
		panic("recursion: unsupported challenge bit width")
	}
	all := decomposeBits(c.b, c.Sample(), c.spec.TwoAdicity)
	return all[:bits]
}

// ObservePow absorbs the FRI proof-of-work witness and pins the low bits
// of the following sample to zero without consuming it, matching the
// native CheckWitness-then-Observe sequence.
func (c *CircuitChallenger) ObservePow(witness Felt, bits int) {
	probe := c.clone()
	probe.Observe(witness)
	for _, bit := range probe.SampleBits(bits) {
		c.b.AssertZeroF(bit)
	}
	c.Observe(witness)
}

// decomposeBits splits a base cell into its 31 canonical bits. The bits
// are hinted, then constrained: each boolean, their weighted sum equal to
// x, and the decomposition below the modulus. For p = 2^31 - 2^ta + 1 a
// 31-bit value reaches p only when the top 31-ta bits are all ones and a
// low bit is set, so forbidding that combination admits every residue
// exactly once.
func decomposeBits(b *Builder, x Felt, twoAdicity int) []Felt {
	hinted := b.Hint([]ExtVar{b.FeltToExt(x)}, feltBits, func(vals []field.Ext) []field.Ext {
		v := field.ToUint32(vals[0].B0.A0)
		out := make([]field.Ext, feltBits)
		for i := range out {
			if v>>i&1 == 1 {
				out[i] = field.ExtFromBase(field.One())
			}
		}
		return out
	})
	bits := make([]Felt, feltBits)
	for i, h := range hinted {
		bit := Felt(h)
		bits[i] = bit
		b.AssertEqF(b.MulF(bit, bit), bit)
	}

	acc := bits[0]
	for i := 1; i < feltBits; i++ {
		w := b.ConstF(field.FromUint32(1 << i))
		acc = b.AddF(acc, b.MulF(bits[i], w))
	}
	b.AssertEqF(acc, x)

	top := bits[twoAdicity]
	for i := twoAdicity + 1; i < feltBits; i++ {
		top = b.MulF(top, bits[i])
	}
	for i := 0; i < twoAdicity; i++ {
		b.AssertZeroF(b.MulF(top, bits[i]))
	}
	return bits
}
