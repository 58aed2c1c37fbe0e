package recursion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

// commitZeroPvs gives a test program the one commit Finalize demands.
func commitZeroPvs(b *Builder) {
	pvs := make([]Felt, machine.NumMachinePvs)
	for i := range pvs {
		pvs[i] = b.Zero()
	}
	b.CommitPublicValues(pvs)
}

func buildAndRun(t *testing.T, build func(b *Builder), witness []field.Ext) (*Program, error) {
	t.Helper()
	b := NewBuilder()
	build(b)
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)
	_, err = Run(p, poseidon2.New(field.DefaultSpec()), witness)
	return p, err
}

func TestRuntimeBaseArithmetic(t *testing.T) {
	build := func(b *Builder) {
		w := b.WitnessF()
		x := b.AddF(w, b.ConstF(field.FromUint32(5)))
		x = b.MulF(x, x)
		b.AssertConstF(x, field.FromUint32(64))
		q := b.DivF(x, b.ConstF(field.FromUint32(4)))
		b.AssertConstF(q, field.FromUint32(16))
	}
	_, err := buildAndRun(t, build, []field.Ext{field.ExtFromBase(field.FromUint32(3))})
	require.NoError(t, err)

	_, err = buildAndRun(t, build, []field.Ext{field.ExtFromBase(field.FromUint32(4))})
	require.ErrorContains(t, err, "assertion failed")
}

func TestRuntimeExtArithmetic(t *testing.T) {
	a := field.ExtFromLimbs([field.ExtDegree]field.Val{field.FromUint32(3), field.FromUint32(9)})
	inv := field.ExtInv(a)
	_, err := buildAndRun(t, func(b *Builder) {
		w := b.WitnessE()
		prod := b.MulE(w, b.ConstE(a))
		b.AssertConstE(prod, field.ExtOne())
	}, []field.Ext{inv})
	require.NoError(t, err)
}

func TestRuntimeSelect(t *testing.T) {
	_, err := buildAndRun(t, func(b *Builder) {
		x := b.ConstE(field.ExtFromBase(field.FromUint32(7)))
		y := b.ConstE(field.ExtFromBase(field.FromUint32(11)))
		hi, lo := b.SelectE(b.One(), x, y)
		b.AssertConstE(hi, field.ExtFromBase(field.FromUint32(11)))
		b.AssertConstE(lo, field.ExtFromBase(field.FromUint32(7)))
	}, nil)
	require.NoError(t, err)

	_, err = buildAndRun(t, func(b *Builder) {
		bit := b.WitnessF()
		x := b.ConstE(field.ExtOne())
		b.SelectE(bit, x, x)
	}, []field.Ext{field.ExtFromBase(field.FromUint32(2))})
	require.ErrorContains(t, err, "non-boolean")
}

func TestRuntimeExpBits(t *testing.T) {
	// 3^13 with 13 = 0b1101, little-endian bits.
	want := field.ExpUint64(field.FromUint32(3), 13)
	_, err := buildAndRun(t, func(b *Builder) {
		bits := []Felt{b.One(), b.Zero(), b.One(), b.One()}
		out := b.ExpBits(b.ConstF(field.FromUint32(3)), bits)
		b.AssertConstF(out, want)
	}, nil)
	require.NoError(t, err)
}

func TestHintEmitsWitnessRows(t *testing.T) {
	a := field.ExtFromLimbs([field.ExtDegree]field.Val{field.FromUint32(17), {}, {}, field.FromUint32(5)})
	b := NewBuilder()
	w := b.WitnessE()
	inv := b.Hint([]ExtVar{w}, 1, func(deps []field.Ext) []field.Ext {
		return []field.Ext{field.ExtInv(deps[0])}
	})[0]
	b.AssertConstE(b.MulE(w, inv), field.ExtOne())
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)

	record, err := Run(p, poseidon2.New(field.DefaultSpec()), []field.Ext{a})
	require.NoError(t, err)
	// One row for the external witness element, one for the hint output.
	require.Len(t, record.CircuitWitness, 2)
	require.True(t, field.ExtEqual(record.CircuitWitness[1].Value, field.ExtInv(a)))
}

func TestCircuitChallengerMatchesNative(t *testing.T) {
	spec := field.DefaultSpec()
	perm := poseidon2.New(spec)

	nch := poseidon2.NewChallenger(perm)
	for i := uint32(1); i <= 20; i++ {
		nch.Observe(field.FromUint32(i * i))
	}
	wantF := nch.Sample()
	wantE := nch.SampleExt()
	wantBits := nch.SampleBits(10)

	b := NewBuilder()
	ch := NewCircuitChallenger(b, spec)
	for i := uint32(1); i <= 20; i++ {
		ch.Observe(b.ConstF(field.FromUint32(i * i)))
	}
	b.AssertConstF(ch.Sample(), wantF)
	b.AssertConstE(ch.SampleExt(), wantE)
	bits := ch.SampleBits(10)
	require.Len(t, bits, 10)
	for i, bit := range bits {
		b.AssertConstF(bit, field.FromUint32(wantBits>>i&1))
	}
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)
	_, err = Run(p, perm, nil)
	require.NoError(t, err)
}

func TestCircuitChallengerPow(t *testing.T) {
	spec := field.DefaultSpec()
	perm := poseidon2.New(spec)
	bits := 8

	nch := poseidon2.NewChallenger(perm)
	nch.Observe(field.FromUint32(42))
	witness := nch.Clone().Grind(bits)
	require.True(t, nch.CheckWitness(bits, witness))
	nch.Observe(witness)
	want := nch.Sample()

	b := NewBuilder()
	ch := NewCircuitChallenger(b, spec)
	ch.Observe(b.ConstF(field.FromUint32(42)))
	ch.ObservePow(b.ConstF(witness), bits)
	b.AssertConstF(ch.Sample(), want)
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)
	_, err = Run(p, perm, nil)
	require.NoError(t, err)
}

func TestDecomposeBitsRecoversValue(t *testing.T) {
	spec := field.DefaultSpec()
	v := uint32(0x6abc_1234)

	b := NewBuilder()
	x := b.WitnessF()
	bits := decomposeBits(b, x, spec.TwoAdicity)
	require.Len(t, bits, 31)
	for i, bit := range bits {
		b.AssertConstF(bit, field.FromUint32(v>>i&1))
	}
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)
	_, err = Run(p, poseidon2.New(spec), []field.Ext{field.ExtFromBase(field.FromUint32(v))})
	require.NoError(t, err)
}

func TestSepticCircuitMatchesNative(t *testing.T) {
	spec := field.DefaultSpec()
	par := septic.NewParams(spec)

	a := par.StartPoint()
	c := par.ZeroDigest().Point()
	want := par.CombineDigests(par.DigestOf(a), par.DigestOf(c)).Point()

	b := NewBuilder()
	sc := NewSepticCircuit(b, spec)
	got := sc.CombineDigests(sc.ConstPoint(a), sc.ConstPoint(c))
	for i := 0; i < septic.Degree; i++ {
		b.AssertConstF(got.X[i], want.X[i])
		b.AssertConstF(got.Y[i], want.Y[i])
	}
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)
	_, err = Run(p, poseidon2.New(spec), nil)
	require.NoError(t, err)
}

func TestSepticCircuitMul(t *testing.T) {
	spec := field.DefaultSpec()
	par := septic.NewParams(spec)

	var x, y septic.Extension
	for i := 0; i < septic.Degree; i++ {
		x[i] = field.FromUint32(uint32(i*i + 3))
		y[i] = field.FromUint32(uint32(7*i + 1))
	}
	want := par.Mul(x, y)

	b := NewBuilder()
	sc := NewSepticCircuit(b, spec)
	got := sc.Mul(sc.Const(x), sc.Const(y))
	for i := 0; i < septic.Degree; i++ {
		b.AssertConstF(got[i], want[i])
	}
	sc.Inv(sc.Const(x))
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)
	_, err = Run(p, poseidon2.New(spec), nil)
	require.NoError(t, err)
}

func TestFinalizeRequiresSingleCommit(t *testing.T) {
	b := NewBuilder()
	b.AddF(b.One(), b.One())
	_, err := b.Finalize()
	require.Error(t, err)

	b2 := NewBuilder()
	commitZeroPvs(b2)
	commitZeroPvs(b2)
	_, err = b2.Finalize()
	require.Error(t, err)
}

func TestRuntimeWitnessBookkeeping(t *testing.T) {
	b := NewBuilder()
	b.WitnessF()
	commitZeroPvs(b)
	p, err := b.Finalize()
	require.NoError(t, err)

	perm := poseidon2.New(field.DefaultSpec())
	_, err = Run(p, perm, nil)
	require.ErrorContains(t, err, "witness exhausted")

	one := field.ExtOne()
	_, err = Run(p, perm, []field.Ext{one, one})
	require.ErrorContains(t, err, "unread")
}
