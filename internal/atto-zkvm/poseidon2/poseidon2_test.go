package poseidon2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

func testPerm() *Permutation {
	return New(field.DefaultSpec())
}

func TestPermuteDeterministicAndMixing(t *testing.T) {
	p := testPerm()

	state := make([]field.Val, p.Width())
	for i := range state {
		state[i] = field.FromUint32(uint32(i))
	}
	again := append([]field.Val(nil), state...)

	p.Permute(state)
	p.Permute(again)
	require.Equal(t, state, again)

	// A single-element change diffuses into every lane.
	flipped := make([]field.Val, p.Width())
	for i := range flipped {
		flipped[i] = field.FromUint32(uint32(i))
	}
	flipped[0] = field.FromUint32(99)
	p.Permute(flipped)
	for i := range flipped {
		require.NotEqual(t, state[i], flipped[i], "lane %d unchanged", i)
	}
}

func TestHashSliceRateBoundary(t *testing.T) {
	p := testPerm()

	vs := make([]field.Val, p.Rate()+3)
	for i := range vs {
		vs[i] = field.FromUint32(uint32(7 * i))
	}
	require.Equal(t, p.HashSlice(vs), p.HashSlice(vs))

	// An extra absorbed element forces another permutation.
	require.NotEqual(t, p.HashSlice(vs[:p.Rate()]), p.HashSlice(append(append([]field.Val{}, vs[:p.Rate()]...), field.Zero())))
}

func TestCompressOrderMatters(t *testing.T) {
	p := testPerm()
	a := p.HashSlice([]field.Val{field.One()})
	b := p.HashSlice([]field.Val{field.FromUint32(2)})
	require.NotEqual(t, p.Compress(a, b), p.Compress(b, a))
}

func TestChallengerDeterminism(t *testing.T) {
	p := testPerm()
	a := NewChallenger(p)
	b := NewChallenger(p)

	for i := 0; i < 20; i++ {
		a.Observe(field.FromUint32(uint32(i)))
		b.Observe(field.FromUint32(uint32(i)))
	}
	require.Equal(t, a.Sample(), b.Sample())
	require.True(t, field.ExtEqual(a.SampleExt(), b.SampleExt()))
	require.Equal(t, a.SampleBits(12), b.SampleBits(12))

	// One diverging observation separates the transcripts.
	a.Observe(field.FromUint32(5))
	b.Observe(field.FromUint32(6))
	require.NotEqual(t, a.Sample(), b.Sample())
}

func TestSampleBitsRange(t *testing.T) {
	c := NewChallenger(testPerm())
	c.Observe(field.FromUint32(42))
	for i := 0; i < 50; i++ {
		require.Less(t, c.SampleBits(10), uint32(1<<10))
	}
}

func TestGrindWitness(t *testing.T) {
	const bits = 6
	c := NewChallenger(testPerm())
	c.ObserveSlice([]field.Val{field.FromUint32(1), field.FromUint32(2)})

	witness := c.Clone().Grind(bits)
	require.True(t, c.CheckWitness(bits, witness))
}
