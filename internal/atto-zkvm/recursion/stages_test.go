package recursion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// testSpec shrinks the query and grinding work so in-circuit verification
// stays fast under go test. Both sides of each test use the same spec.
func testSpec() field.Spec {
	spec := field.DefaultSpec()
	spec.NumQueries = 4
	spec.GrindingBits = 2
	return spec
}

// rampChip is a minimal chip with preprocessed columns: a row index next to
// a main column mirroring it.
type rampChip struct{ rows int }

func (c *rampChip) Name() string           { return "Ramp" }
func (c *rampChip) PreprocessedWidth() int { return 1 }
func (c *rampChip) MainWidth() int         { return 2 }

func (c *rampChip) GeneratePreprocessed(program any) *matrix.Dense {
	m := matrix.NewDense(c.rows, 1)
	for r := 0; r < c.rows; r++ {
		m.Set(r, 0, field.FromUint32(uint32(r)))
	}
	return m
}

func (c *rampChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := matrix.NewDense(c.rows, 2)
	for r := 0; r < c.rows; r++ {
		m.Set(r, 0, field.FromUint32(uint32(r)))
		m.Set(r, 1, field.One())
	}
	return m
}

func (c *rampChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *rampChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *rampChip) LocalOnly() bool                                       { return false }
func (c *rampChip) LookupScope() machine.LookupScope                      { return machine.ScopeRegional }

func (c *rampChip) Eval(b *machine.Builder) {
	b.AssertEqFirstRow(b.Local(0), machine.ConstU32(0))
	b.AssertZeroTransition(machine.Sub(b.Next(0), machine.Add(b.Local(0), machine.ConstU32(1))))
	b.AssertEq(b.Local(0), b.PreLocal(0))
	b.AssertBool(b.Local(1))
}

// pairChips produce and consume matching byte tuples so the regional
// lookup argument balances and both sides get permutation columns.
type lookSide struct {
	name   string
	looked bool
	vals   []uint32
}

func (c *lookSide) Name() string                                          { return c.name }
func (c *lookSide) PreprocessedWidth() int                                { return 0 }
func (c *lookSide) MainWidth() int                                        { return 2 }
func (c *lookSide) GeneratePreprocessed(program any) *matrix.Dense        { return nil }
func (c *lookSide) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *lookSide) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *lookSide) LocalOnly() bool                                       { return false }
func (c *lookSide) LookupScope() machine.LookupScope                      { return machine.ScopeRegional }

func (c *lookSide) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	h := matrix.NextPowerOfTwo(len(c.vals))
	m := matrix.NewDense(h, 2)
	for r, v := range c.vals {
		m.Set(r, 0, field.FromUint32(v))
		m.Set(r, 1, field.One())
	}
	return m
}

func (c *lookSide) Eval(b *machine.Builder) {
	b.AssertBool(b.Local(1))
	if c.looked {
		b.Looked(machine.LookupByte, machine.ScopeRegional, []machine.Expr{b.Local(0)}, b.Local(1))
	} else {
		b.Looking(machine.LookupByte, machine.ScopeRegional, []machine.Expr{b.Local(0)}, b.Local(1))
	}
}

func childMachine(t *testing.T, spec field.Spec) (*machine.BaseMachine, *machine.BaseProvingKey) {
	t.Helper()
	m := machine.NewBaseMachine(spec, []machine.ChipBehavior{
		&rampChip{rows: 8},
		&lookSide{name: "Emit", vals: []uint32{3, 9, 9, 250}},
		&lookSide{name: "Recv", looked: true, vals: []uint32{3, 9, 9, 250}},
	})
	pk, err := m.Setup(&compiler.Program{PCStart: 0x1000})
	require.NoError(t, err)
	return m, pk
}

func childRecord(chunk, startPc, nextPc uint32, complete bool) *emulator.EmulationRecord {
	record := emulator.NewRecord(&compiler.Program{PCStart: 0x1000}, chunk)
	record.PublicValues = emulator.PublicValues{
		Chunk:   chunk,
		StartPc: startPc,
		NextPc:  nextPc,
	}
	if complete {
		record.PublicValues.FlagComplete = 1
	}
	return record
}

func proveChild(t *testing.T, m *machine.BaseMachine, pk *machine.BaseProvingKey, record *emulator.EmulationRecord) *machine.BaseProof {
	t.Helper()
	m.CompleteRecord(record)
	proof, err := m.ProveChunk(pk, record)
	require.NoError(t, err)
	require.NoError(t, m.VerifyChunk(pk.Vk, proof))
	return proof
}

func proveRecursion(t *testing.T, spec field.Spec, p *Program, witness []field.Ext) (*emulator.EmulationRecord, *machine.BaseProof, *machine.BaseVerifyingKey) {
	t.Helper()
	record, err := Run(p, poseidon2.New(spec), witness)
	require.NoError(t, err)

	rm := NewRecursionMachine(spec)
	rpk, err := rm.Setup(p)
	require.NoError(t, err)
	rm.CompleteRecord(record)
	rproof, err := rm.ProveChunk(rpk, record)
	require.NoError(t, err)
	require.NoError(t, rm.VerifyChunk(rpk.Vk, rproof))
	return record, rproof, rpk.Vk
}

func TestConvertProgram(t *testing.T) {
	spec := testSpec()
	m, pk := childMachine(t, spec)
	proof := proveChild(t, m, pk, childRecord(0, 0x1000, 0, true))

	child := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(proof)}
	p, err := BuildConvertProgram(child)
	require.NoError(t, err)

	witness, err := WitnessFromProof(m, pk.Vk, proof)
	require.NoError(t, err)

	record, _, _ := proveRecursion(t, spec, p, witness)
	require.Equal(t, proof.PublicValues[:emulator.NumPublicValues], record.PublicValues.ToVals())
	require.True(t, proof.GlobalSum.Equal(*record.GlobalSumOverride))
}

func TestConvertRejectsTamperedWitness(t *testing.T) {
	spec := testSpec()
	m, pk := childMachine(t, spec)
	proof := proveChild(t, m, pk, childRecord(0, 0x1000, 0, true))

	child := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(proof)}
	p, err := BuildConvertProgram(child)
	require.NoError(t, err)
	witness, err := WitnessFromProof(m, pk.Vk, proof)
	require.NoError(t, err)

	perm := poseidon2.New(spec)
	// Public value tampering diverges the transcript replay.
	bad := append([]field.Ext(nil), witness...)
	bad[1] = field.ExtAdd(bad[1], field.ExtOne())
	_, err = Run(p, perm, bad)
	require.Error(t, err)

	// A corrupted opened value breaks the opening accumulation.
	bad = append([]field.Ext(nil), witness...)
	bad[len(bad)/2] = field.ExtAdd(bad[len(bad)/2], field.ExtOne())
	_, err = Run(p, perm, bad)
	require.Error(t, err)
}

func TestCombineProgram(t *testing.T) {
	spec := testSpec()
	m, pk := childMachine(t, spec)

	send := emulator.GlobalLookupEvent{Kind: emulator.KindMemory, Values: [6]uint32{1, 2, 3, 4, 5, 6}}
	recv := send
	recv.IsReceive = true

	r0 := childRecord(0, 0x1000, 0x2000, false)
	r0.GlobalEvents = append(r0.GlobalEvents, send)
	r1 := childRecord(1, 0x2000, 0, true)
	r1.GlobalEvents = append(r1.GlobalEvents, recv)

	p0 := proveChild(t, m, pk, r0)
	p1 := proveChild(t, m, pk, r1)

	left := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(p0)}
	right := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(p1)}
	prog, err := BuildCombineProgram(left, right, 1)
	require.NoError(t, err)

	w0, err := WitnessFromProof(m, pk.Vk, p0)
	require.NoError(t, err)
	w1, err := WitnessFromProof(m, pk.Vk, p1)
	require.NoError(t, err)

	record, _, _ := proveRecursion(t, spec, prog, append(w0, w1...))
	require.Equal(t, uint32(0), record.PublicValues.Chunk)
	require.Equal(t, uint32(0x1000), record.PublicValues.StartPc)
	require.Equal(t, uint32(0), record.PublicValues.NextPc)
	require.Equal(t, uint32(1), record.PublicValues.FlagComplete)

	par := m.Septic()
	want := par.CombineDigests(par.DigestOf(p0.GlobalSum), par.DigestOf(p1.GlobalSum)).Point()
	require.True(t, want.Equal(*record.GlobalSumOverride))
	require.True(t, par.DigestIsZero(par.DigestOf(*record.GlobalSumOverride)))
}

func TestCombineRejectsBrokenChain(t *testing.T) {
	spec := testSpec()
	m, pk := childMachine(t, spec)

	send := emulator.GlobalLookupEvent{Kind: emulator.KindMemory, Values: [6]uint32{9, 8, 7, 6, 5, 4}}
	recv := send
	recv.IsReceive = true

	r0 := childRecord(0, 0x1000, 0x2000, false)
	r0.GlobalEvents = append(r0.GlobalEvents, send)
	r1 := childRecord(1, 0x3000, 0, true) // does not resume at 0x2000
	r1.GlobalEvents = append(r1.GlobalEvents, recv)
	p0 := proveChild(t, m, pk, r0)
	p1 := proveChild(t, m, pk, r1)

	left := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(p0)}
	right := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(p1)}
	prog, err := BuildCombineProgram(left, right, 1)
	require.NoError(t, err)

	w0, err := WitnessFromProof(m, pk.Vk, p0)
	require.NoError(t, err)
	w1, err := WitnessFromProof(m, pk.Vk, p1)
	require.NoError(t, err)

	_, err = Run(prog, poseidon2.New(spec), append(w0, w1...))
	require.ErrorContains(t, err, "assertion failed")
}

func TestCompressVkProgram(t *testing.T) {
	spec := testSpec()
	m, pk := childMachine(t, spec)
	proof := proveChild(t, m, pk, childRecord(0, 0x1000, 0, true))

	perm := poseidon2.New(spec)
	leafOf := func(vk *machine.BaseVerifyingKey) poseidon2.Digest {
		return perm.HashSlice(append(append([]field.Val(nil), vk.PreprocessedCommit[:]...), field.FromUint32(vk.StartPc)))
	}
	leaf := leafOf(pk.Vk)
	other := perm.HashSlice([]field.Val{field.FromUint32(0xbeef)})
	root := perm.Compress(leaf, other)

	child := ChildSpec{Machine: m, Vk: pk.Vk, Shape: ShapeOf(proof)}
	prog, err := BuildCompressVkProgram(child, root, 1)
	require.NoError(t, err)

	pw, err := WitnessFromProof(m, pk.Vk, proof)
	require.NoError(t, err)
	witness := append(VkWitness(pk.Vk), VkMembershipWitness(0, []poseidon2.Digest{other})...)
	witness = append(witness, pw...)

	record, _, _ := proveRecursion(t, spec, prog, witness)
	require.Equal(t, proof.PublicValues[:emulator.NumPublicValues], record.PublicValues.ToVals())

	t.Run("wrong_sibling_rejected", func(t *testing.T) {
		bad := append(VkWitness(pk.Vk), VkMembershipWitness(0, []poseidon2.Digest{leaf})...)
		bad = append(bad, pw...)
		_, err := Run(prog, perm, bad)
		require.ErrorContains(t, err, "assertion failed")
	})

	t.Run("wrong_index_rejected", func(t *testing.T) {
		bad := append(VkWitness(pk.Vk), VkMembershipWitness(1, []poseidon2.Digest{other})...)
		bad = append(bad, pw...)
		_, err := Run(prog, perm, bad)
		require.ErrorContains(t, err, "assertion failed")
	})
}

func TestShapeOfRoundTrip(t *testing.T) {
	spec := testSpec()
	m, pk := childMachine(t, spec)
	proof := proveChild(t, m, pk, childRecord(0, 0x1000, 0, true))

	shape := ShapeOf(proof)
	require.Equal(t, []string{"Ramp", "Emit", "Recv"}, shape.ChipNames)
	require.Len(t, shape.LogHeights, 3)

	_, err := NewChunkVerifier(NewBuilder(), m, pk.Vk, ProofShape{ChipNames: []string{"Recv", "Ramp"}, LogHeights: []int{2, 3}})
	require.Error(t, err)
}
