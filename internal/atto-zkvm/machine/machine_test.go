package machine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

// counterChip is a self-contained test chip: a preprocessed row index, a
// main column mirroring it, and first-row/transition constraints.
type counterChip struct{ rows int }

func (c *counterChip) Name() string           { return "Counter" }
func (c *counterChip) PreprocessedWidth() int { return 1 }
func (c *counterChip) MainWidth() int         { return 2 }

func (c *counterChip) GeneratePreprocessed(program any) *matrix.Dense {
	m := matrix.NewDense(c.rows, 1)
	for r := 0; r < c.rows; r++ {
		m.Set(r, 0, field.FromUint32(uint32(r)))
	}
	return m
}

func (c *counterChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := matrix.NewDense(c.rows, 2)
	for r := 0; r < c.rows; r++ {
		m.Set(r, 0, field.FromUint32(uint32(r)))
		m.Set(r, 1, field.One())
	}
	return m
}

func (c *counterChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *counterChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *counterChip) LocalOnly() bool                                       { return false }
func (c *counterChip) LookupScope() LookupScope                              { return ScopeRegional }

func (c *counterChip) Eval(b *Builder) {
	b.AssertEqFirstRow(b.Local(0), ConstU32(0))
	b.AssertZeroTransition(Sub(b.Next(0), Add(b.Local(0), ConstU32(1))))
	b.AssertEq(b.Local(0), b.PreLocal(0))
	b.AssertBool(b.Local(1))
}

// sendChip consumes (value, 1) tuples; recvChip produces them with
// multiplicities. Together they exercise the lookup argument.
type sendChip struct{ vals []uint32 }

func (c *sendChip) Name() string                                          { return "Send" }
func (c *sendChip) PreprocessedWidth() int                                { return 0 }
func (c *sendChip) MainWidth() int                                        { return 2 }
func (c *sendChip) GeneratePreprocessed(program any) *matrix.Dense        { return nil }
func (c *sendChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *sendChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *sendChip) LocalOnly() bool                                       { return false }
func (c *sendChip) LookupScope() LookupScope                              { return ScopeRegional }

func (c *sendChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	h := matrix.NextPowerOfTwo(len(c.vals))
	m := matrix.NewDense(h, 2)
	for r, v := range c.vals {
		m.Set(r, 0, field.FromUint32(v))
		m.Set(r, 1, field.One())
	}
	return m
}

func (c *sendChip) Eval(b *Builder) {
	b.AssertBool(b.Local(1))
	b.Looking(LookupByte, ScopeRegional, []Expr{b.Local(0)}, b.Local(1))
}

type recvChip struct {
	vals   []uint32
	counts []uint32
}

func (c *recvChip) Name() string                                          { return "Recv" }
func (c *recvChip) PreprocessedWidth() int                                { return 0 }
func (c *recvChip) MainWidth() int                                        { return 2 }
func (c *recvChip) GeneratePreprocessed(program any) *matrix.Dense        { return nil }
func (c *recvChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *recvChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *recvChip) LocalOnly() bool                                       { return false }
func (c *recvChip) LookupScope() LookupScope                              { return ScopeRegional }

func (c *recvChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	h := matrix.NextPowerOfTwo(len(c.vals))
	m := matrix.NewDense(h, 2)
	for r, v := range c.vals {
		m.Set(r, 0, field.FromUint32(v))
		m.Set(r, 1, field.FromUint32(c.counts[r]))
	}
	return m
}

func (c *recvChip) Eval(b *Builder) {
	b.Looked(LookupByte, ScopeRegional, []Expr{b.Local(0)}, b.Local(1))
}

func testMachine(t *testing.T, chips ...ChipBehavior) (*BaseMachine, *BaseProvingKey) {
	t.Helper()
	m := NewBaseMachine(field.DefaultSpec(), chips)
	pk, err := m.Setup(&compiler.Program{PCStart: 0x1000})
	require.NoError(t, err)
	return m, pk
}

func testRecord(chunk, startPc, nextPc uint32, complete bool) *emulator.EmulationRecord {
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

func balancedChips() []ChipBehavior {
	return []ChipBehavior{
		&counterChip{rows: 32},
		&sendChip{vals: []uint32{3, 7, 7, 11, 200}},
		&recvChip{vals: []uint32{3, 7, 11, 200}, counts: []uint32{1, 2, 1, 1}},
	}
}

func TestProveVerifyChunk(t *testing.T) {
	m, pk := testMachine(t, balancedChips()...)
	record := testRecord(0, 0x1000, 0, true)
	m.CompleteRecord(record)

	proof, err := m.ProveChunk(pk, record)
	require.NoError(t, err)
	require.Equal(t, []string{"Counter", "Send", "Recv"}, proof.ChipNames)
	require.True(t, field.ExtIsZero(proof.CumulativeSum()))

	require.NoError(t, m.VerifyChunk(pk.Vk, proof))
}

func TestVerifyRejectsTampering(t *testing.T) {
	m, pk := testMachine(t, balancedChips()...)
	record := testRecord(0, 0x1000, 0, true)
	m.CompleteRecord(record)
	proof, err := m.ProveChunk(pk, record)
	require.NoError(t, err)

	t.Run("opened_main_value", func(t *testing.T) {
		bad := *proof
		bad.OpenedValues = append([]ChipOpenedValues(nil), proof.OpenedValues...)
		ml := append([]field.Ext(nil), bad.OpenedValues[0].MainLocal...)
		ml[0] = field.ExtAdd(ml[0], field.ExtOne())
		bad.OpenedValues[0].MainLocal = ml
		require.ErrorIs(t, m.VerifyChunk(pk.Vk, &bad), ErrInvalidProof)
	})

	t.Run("public_value", func(t *testing.T) {
		bad := *proof
		bad.PublicValues = append([]field.Val(nil), proof.PublicValues...)
		bad.PublicValues[1] = field.FromUint32(0xdead)
		require.ErrorIs(t, m.VerifyChunk(pk.Vk, &bad), ErrInvalidProof)
	})

	t.Run("global_sum", func(t *testing.T) {
		bad := *proof
		bad.GlobalSum = m.Septic().StartPoint()
		require.ErrorIs(t, m.VerifyChunk(pk.Vk, &bad), ErrInvalidProof)
	})

	t.Run("cumulative_sum", func(t *testing.T) {
		bad := *proof
		bad.OpenedValues = append([]ChipOpenedValues(nil), proof.OpenedValues...)
		bad.OpenedValues[1].CumulativeSum = field.ExtOne()
		require.ErrorIs(t, m.VerifyChunk(pk.Vk, &bad), ErrInvalidProof)
	})

	t.Run("dropped_chip", func(t *testing.T) {
		bad := *proof
		bad.ChipNames = proof.ChipNames[:2]
		bad.OpenedValues = proof.OpenedValues[:2]
		require.ErrorIs(t, m.VerifyChunk(pk.Vk, &bad), ErrInvalidProof)
	})
}

func TestVerifyRejectsLookupImbalance(t *testing.T) {
	chips := []ChipBehavior{
		&counterChip{rows: 32},
		&sendChip{vals: []uint32{3, 7, 7, 11}},
		&recvChip{vals: []uint32{3, 7, 11}, counts: []uint32{1, 1, 1}},
	}
	m, pk := testMachine(t, chips...)
	record := testRecord(0, 0x1000, 0, true)
	m.CompleteRecord(record)

	proof, err := m.ProveChunk(pk, record)
	require.NoError(t, err)
	require.False(t, field.ExtIsZero(proof.CumulativeSum()))
	require.ErrorIs(t, m.VerifyChunk(pk.Vk, proof), ErrInvalidProof)
}

func TestEnsembleChaining(t *testing.T) {
	m, pk := testMachine(t, balancedChips()...)
	records := []*emulator.EmulationRecord{
		testRecord(0, 0x1000, 0x2000, false),
		testRecord(1, 0x2000, 0, true),
	}
	proofs, err := m.ProveEnsemble(context.Background(), pk, records)
	require.NoError(t, err)
	require.NoError(t, m.VerifyEnsemble(pk.Vk, proofs))

	t.Run("reordered_chunks_rejected", func(t *testing.T) {
		swapped := []*BaseProof{proofs[1], proofs[0]}
		require.ErrorIs(t, m.VerifyEnsemble(pk.Vk, swapped), ErrInvalidProof)
	})

	t.Run("truncated_rejected", func(t *testing.T) {
		require.ErrorIs(t, m.VerifyEnsemble(pk.Vk, proofs[:1]), ErrInvalidProof)
	})
}

func TestEnsembleGlobalBalance(t *testing.T) {
	m, pk := testMachine(t, balancedChips()...)

	send := emulator.GlobalLookupEvent{Kind: emulator.KindMemory, Values: [6]uint32{1, 2, 3, 4, 5, 6}}
	recv := send
	recv.IsReceive = true

	t.Run("matched_events_cancel", func(t *testing.T) {
		r0 := testRecord(0, 0x1000, 0x2000, false)
		r0.GlobalEvents = append(r0.GlobalEvents, send)
		r1 := testRecord(1, 0x2000, 0, true)
		r1.GlobalEvents = append(r1.GlobalEvents, recv)
		proofs, err := m.ProveEnsemble(context.Background(), pk, []*emulator.EmulationRecord{r0, r1})
		require.NoError(t, err)
		require.NoError(t, m.VerifyEnsemble(pk.Vk, proofs))
	})

	t.Run("unmatched_event_rejected", func(t *testing.T) {
		r0 := testRecord(0, 0x1000, 0x2000, false)
		r0.GlobalEvents = append(r0.GlobalEvents, send)
		r1 := testRecord(1, 0x2000, 0, true)
		proofs, err := m.ProveEnsemble(context.Background(), pk, []*emulator.EmulationRecord{r0, r1})
		require.NoError(t, err)
		require.ErrorIs(t, m.VerifyEnsemble(pk.Vk, proofs), ErrInvalidProof)
	})
}

func TestMetaChipDegrees(t *testing.T) {
	meta := NewMetaChip(&counterChip{rows: 32})
	require.Equal(t, 0, meta.LogQuotientDegree)
	require.Len(t, meta.Constraints, 4)
	require.Equal(t, 0, meta.PermutationWidth())

	sender := NewMetaChip(&sendChip{vals: []uint32{1}})
	require.Equal(t, 2, sender.PermutationWidth())
	require.Equal(t, 4, NumPermConstraints(sender))
}
