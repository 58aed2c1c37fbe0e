package proverchain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

func testSpec() field.Spec {
	spec := field.DefaultSpec()
	spec.NumQueries = 4
	spec.GrindingBits = 2
	return spec
}

// tickChip is a stand-in execution chip so the chain has something real to
// wrap: a row counter with a matching preprocessed column.
type tickChip struct{ rows int }

func (c *tickChip) Name() string           { return "Tick" }
func (c *tickChip) PreprocessedWidth() int { return 1 }
func (c *tickChip) MainWidth() int         { return 1 }

func (c *tickChip) GeneratePreprocessed(program any) *matrix.Dense {
	m := matrix.NewDense(c.rows, 1)
	for r := 0; r < c.rows; r++ {
		m.Set(r, 0, field.FromUint32(uint32(r)))
	}
	return m
}

func (c *tickChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := matrix.NewDense(c.rows, 1)
	for r := 0; r < c.rows; r++ {
		m.Set(r, 0, field.FromUint32(uint32(r)))
	}
	return m
}

func (c *tickChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *tickChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *tickChip) LocalOnly() bool                                       { return false }
func (c *tickChip) LookupScope() machine.LookupScope                      { return machine.ScopeRegional }

func (c *tickChip) Eval(b *machine.Builder) {
	b.AssertEqFirstRow(b.Local(0), machine.ConstU32(0))
	b.AssertZeroTransition(machine.Sub(b.Next(0), machine.Add(b.Local(0), machine.ConstU32(1))))
	b.AssertEq(b.Local(0), b.PreLocal(0))
}

func baseMachine(t *testing.T, spec field.Spec) (*machine.BaseMachine, *machine.BaseProvingKey) {
	t.Helper()
	m := machine.NewBaseMachine(spec, []machine.ChipBehavior{&tickChip{rows: 8}})
	pk, err := m.Setup(&compiler.Program{PCStart: 0x1000})
	require.NoError(t, err)
	return m, pk
}

func chunkProofs(t *testing.T, m *machine.BaseMachine, pk *machine.BaseProvingKey) []*machine.BaseProof {
	t.Helper()
	send := emulator.GlobalLookupEvent{Kind: emulator.KindMemory, Values: [6]uint32{1, 2, 3, 4, 5, 6}}
	recv := send
	recv.IsReceive = true

	r0 := emulator.NewRecord(&compiler.Program{PCStart: 0x1000}, 0)
	r0.PublicValues = emulator.PublicValues{Chunk: 0, StartPc: 0x1000, NextPc: 0x2000}
	r0.GlobalEvents = append(r0.GlobalEvents, send)
	r1 := emulator.NewRecord(&compiler.Program{PCStart: 0x1000}, 1)
	r1.PublicValues = emulator.PublicValues{Chunk: 1, StartPc: 0x2000, NextPc: 0, FlagComplete: 1}
	r1.GlobalEvents = append(r1.GlobalEvents, recv)

	var proofs []*machine.BaseProof
	for _, record := range []*emulator.EmulationRecord{r0, r1} {
		m.CompleteRecord(record)
		proof, err := m.ProveChunk(pk, record)
		require.NoError(t, err)
		proofs = append(proofs, proof)
	}
	require.NoError(t, m.VerifyEnsemble(pk.Vk, proofs))
	return proofs
}

func TestVkManager(t *testing.T) {
	spec := testSpec()
	_, pk := baseMachine(t, spec)
	stray := &machine.BaseVerifyingKey{StartPc: 0xdead}

	mgr, err := NewVkManager(spec, []*machine.BaseVerifyingKey{pk.Vk, stray})
	require.NoError(t, err)
	require.Equal(t, 1, mgr.Depth())
	require.True(t, mgr.Allowed(pk.Vk))

	proof, err := mgr.Membership(pk.Vk)
	require.NoError(t, err)
	require.Equal(t, 0, proof.Index)
	require.True(t, mgr.VerifyMembership(pk.Vk, proof))

	bad := proof
	bad.Index = 1
	require.False(t, mgr.VerifyMembership(pk.Vk, bad))

	other := &machine.BaseVerifyingKey{StartPc: 0xbeef}
	require.False(t, mgr.Allowed(other))
	_, err = mgr.Membership(other)
	require.ErrorIs(t, err, ErrVkNotAllowed)
}

func TestVkManagerRejectsDegenerateLists(t *testing.T) {
	spec := testSpec()
	_, err := NewVkManager(spec, nil)
	require.Error(t, err)

	_, pk := baseMachine(t, spec)
	_, err = NewVkManager(spec, []*machine.BaseVerifyingKey{pk.Vk, pk.Vk})
	require.Error(t, err)
}

func TestChainEndToEnd(t *testing.T) {
	spec := testSpec()
	m, pk := baseMachine(t, spec)
	proofs := chunkProofs(t, m, pk)

	convert := NewConvertStage(m, pk.Vk)
	nodes, err := convert.Prove(proofs)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	for _, node := range nodes {
		require.Equal(t, 1, node.Chunks)
	}

	combine := NewCombineStage(convert)
	combined, err := combine.Reduce(nodes)
	require.NoError(t, err)
	require.Equal(t, 2, combined.Chunks)

	compress := NewCompressStage(combine)
	compressed, err := compress.Prove(combined)
	require.NoError(t, err)

	stray := &machine.BaseVerifyingKey{StartPc: 0x7777}
	mgr, err := NewVkManager(spec, []*machine.BaseVerifyingKey{compressed.Vk, stray})
	require.NoError(t, err)

	compressVk := NewCompressVkStage(compress, mgr)
	final, err := compressVk.Prove(compressed)
	require.NoError(t, err)

	meta := NewMetaProof(final)
	require.NoError(t, VerifyMeta(spec, 0x1000, meta))

	embed := NewEmbedStage(compressVk)
	ep, err := embed.Prove(final)
	require.NoError(t, err)
	require.Equal(t, final.Proof.PublicValues, ep.PublicValues)
	require.NotEmpty(t, ep.ProofBytes)
	perm := poseidon2.New(spec)
	require.Equal(t, VkDigest(perm, final.Vk), ep.VkDigest)
	require.Equal(t, perm.HashSlice(final.Proof.PublicValues), ep.PvDigest)

	t.Run("meta_round_trip", func(t *testing.T) {
		raw, err := meta.Marshal()
		require.NoError(t, err)
		back, err := UnmarshalMetaProof(raw)
		require.NoError(t, err)
		require.Empty(t, cmp.Diff(meta.PublicValues, back.PublicValues))
		require.Empty(t, cmp.Diff(meta.Vks, back.Vks))
		require.NoError(t, VerifyMeta(spec, 0x1000, back))
	})

	t.Run("tampered_stream_rejected", func(t *testing.T) {
		bad := NewMetaProof(final)
		bad.PublicValues = append([]field.Val(nil), bad.PublicValues...)
		bad.PublicValues[1] = field.FromUint32(0xbad)
		require.ErrorIs(t, VerifyMeta(spec, 0x1000, bad), ErrInvalidMeta)
	})

	t.Run("wrong_entry_point_rejected", func(t *testing.T) {
		require.ErrorIs(t, VerifyMeta(spec, 0x2000, meta), ErrInvalidMeta)
	})

	t.Run("disallowed_vk_rejected", func(t *testing.T) {
		strayMgr, err := NewVkManager(spec, []*machine.BaseVerifyingKey{stray})
		require.NoError(t, err)
		stage := NewCompressVkStage(compress, strayMgr)
		_, err = stage.Prove(compressed)
		require.ErrorIs(t, err, ErrVkNotAllowed)
	})
}

func TestConvertRequiresProofs(t *testing.T) {
	spec := testSpec()
	m, pk := baseMachine(t, spec)
	convert := NewConvertStage(m, pk.Vk)
	_, err := convert.Prove(nil)
	require.Error(t, err)

	combine := NewCombineStage(convert)
	_, err = combine.Reduce(nil)
	require.Error(t, err)
}
