package poseidon2

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Challenger is the duplex-sponge Fiat-Shamir transcript. The prover and
// verifier must observe exactly the same public data in the same order for
// the sampled challenges to agree; any divergence shows up as a failed
// constraint, never as a recovered state.
type Challenger struct {
	perm   *Permutation
	state  []field.Val
	input  []field.Val
	output []field.Val
}

// NewChallenger returns a fresh transcript.
func NewChallenger(perm *Permutation) *Challenger {
	return &Challenger{
		perm:  perm,
		state: make([]field.Val, perm.Width()),
	}
}

// Clone deep-copies the transcript state, used for grinding checks.
func (c *Challenger) Clone() *Challenger {
	dup := &Challenger{perm: c.perm}
	dup.state = append([]field.Val(nil), c.state...)
	dup.input = append([]field.Val(nil), c.input...)
	dup.output = append([]field.Val(nil), c.output...)
	return dup
}

func (c *Challenger) duplex() {
	copy(c.state[:len(c.input)], c.input)
	c.input = c.input[:0]
	c.perm.Permute(c.state)
	c.output = append(c.output[:0], c.state[:c.perm.Rate()]...)
}

// Observe absorbs one field element.
func (c *Challenger) Observe(v field.Val) {
	// Any pending output is invalidated by new input.
	c.output = c.output[:0]
	c.input = append(c.input, v)
	if len(c.input) == c.perm.Rate() {
		c.duplex()
	}
}

// ObserveSlice absorbs vs in order.
func (c *Challenger) ObserveSlice(vs []field.Val) {
	for _, v := range vs {
		c.Observe(v)
	}
}

// ObserveExt absorbs the four base limbs of v.
func (c *Challenger) ObserveExt(v field.Ext) {
	limbs := field.ExtLimbs(v)
	c.ObserveSlice(limbs[:])
}

// ObserveDigest absorbs a commitment digest.
func (c *Challenger) ObserveDigest(d Digest) {
	c.ObserveSlice(d[:])
}

// Sample squeezes one field element.
func (c *Challenger) Sample() field.Val {
	if len(c.input) > 0 || len(c.output) == 0 {
		c.duplex()
	}
	v := c.output[len(c.output)-1]
	c.output = c.output[:len(c.output)-1]
	return v
}

// SampleExt squeezes one challenge-field element.
func (c *Challenger) SampleExt() field.Ext {
	var limbs [field.ExtDegree]field.Val
	for i := range limbs {
		limbs[i] = c.Sample()
	}
	return field.ExtFromLimbs(limbs)
}

// SampleBits squeezes an unbiased (for our 31-bit fields, up to the
// negligible modulus defect) integer of the given bit width.
func (c *Challenger) SampleBits(bits int) uint32 {
	if bits <= 0 || bits > 27 {
		panic("poseidon2: unsupported challenge bit width")
	}
	v := field.ToUint32(c.Sample())
	return v & ((1 << bits) - 1)
}

// Grind searches for a witness element whose observation makes the next
// SampleBits(bits) come out zero, the FRI proof-of-work.
func (c *Challenger) Grind(bits int) field.Val {
	for i := uint64(0); ; i++ {
		witness := field.FromUint64(i)
		if c.CheckWitness(bits, witness) {
			c.Observe(witness)
			return witness
		}
	}
}

// CheckWitness reports whether observing the witness yields a zero
// bit-sample, without mutating the transcript.
func (c *Challenger) CheckWitness(bits int, witness field.Val) bool {
	probe := c.Clone()
	probe.Observe(witness)
	return probe.SampleBits(bits) == 0
}
