package emulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
)

func run(t *testing.T, b *compiler.Builder, opts Options, inputs ...[]byte) (*Emulator, []*EmulationRecord) {
	t.Helper()
	e := New(b.Build(), opts)
	for _, in := range inputs {
		e.WithInput(in)
	}
	records, err := e.Run(context.Background())
	require.NoError(t, err)
	return e, records
}

func haltWith(b *compiler.Builder, code uint32) {
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, SyscallHalt))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, code))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
}

func TestAluProgram(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 7))
	b.Emit(compiler.NewALUImm(compiler.ADD, 2, 0, 5))
	b.Emit(compiler.NewALU(compiler.ADD, 3, 1, 2))
	b.Emit(compiler.NewALU(compiler.SLT, 4, 2, 1))
	b.Emit(compiler.NewALU(compiler.MUL, 6, 1, 2))
	haltWith(b, 0)

	e, records := run(t, b, Options{})
	require.Len(t, records, 1)
	require.Equal(t, uint32(12), e.reg(3))
	require.Equal(t, uint32(1), e.reg(4))
	require.Equal(t, uint32(35), e.reg(6))
	require.Len(t, records[0].AddSubEvents, 5)
	require.Len(t, records[0].LtEvents, 1)
	require.Len(t, records[0].MulEvents, 1)
	require.Equal(t, uint32(1), records[0].PublicValues.FlagComplete)
}

func TestBranchLoop(t *testing.T) {
	b := compiler.NewBuilder()
	// sum 1..10 into x2
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 10))
	loop := b.Emit(compiler.NewALU(compiler.ADD, 2, 2, 1))
	b.Emit(compiler.NewALUImm(compiler.SUB, 1, 1, 1))
	b.Emit(compiler.Instruction{Opcode: compiler.BNE, OpA: 1, OpB: 0, OpC: loop, ImmC: true})
	haltWith(b, 0)

	e, _ := run(t, b, Options{})
	require.Equal(t, uint32(55), e.reg(2))
}

func TestMemoryRoundTrip(t *testing.T) {
	b := compiler.NewBuilder()
	b.SetWord(0x2000, 0xDEADBEEF)
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 0x2000))
	b.Emit(compiler.Instruction{Opcode: compiler.LW, OpA: 2, OpB: 1, OpC: 0, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.SW, OpA: 2, OpB: 1, OpC: 4, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LBU, OpA: 3, OpB: 1, OpC: 0, ImmC: true})
	haltWith(b, 0)

	e, records := run(t, b, Options{})
	require.Equal(t, uint32(0xDEADBEEF), e.reg(2))
	require.Equal(t, uint32(0xEF), e.reg(3))
	require.Len(t, records[0].MemoryEvents, 3)

	// Timestamps strictly increase on the re-read address.
	var accs []MemoryRecord
	for _, ev := range records[0].MemoryEvents {
		if ev.Addr == 0x2000 {
			accs = append(accs, ev)
		}
	}
	require.Len(t, accs, 2)
	require.Greater(t, accs[1].Timestamp, accs[0].Timestamp)
	require.Equal(t, accs[0].Timestamp, accs[1].PrevTimestamp)

	// Init/finalize cover every touched word exactly once.
	require.Equal(t, len(records[0].MemoryInit), len(records[len(records)-1].MemoryFinalize))
}

func TestChunking(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 64))
	loop := b.Emit(compiler.NewALU(compiler.ADD, 2, 2, 1))
	b.Emit(compiler.NewALUImm(compiler.SUB, 1, 1, 1))
	b.Emit(compiler.Instruction{Opcode: compiler.BNE, OpA: 1, OpB: 0, OpC: loop, ImmC: true})
	haltWith(b, 0)

	_, records := run(t, b, Options{ChunkSize: 32})
	require.Greater(t, len(records), 1)

	// Chunk public values chain: next_pc of chunk i is start_pc of i+1.
	for i := 0; i+1 < len(records); i++ {
		require.Equal(t, records[i].PublicValues.NextPc, records[i+1].PublicValues.StartPc)
		require.Equal(t, uint32(i), records[i].PublicValues.Chunk)
		require.Zero(t, records[i].PublicValues.FlagComplete)
	}
	require.Equal(t, uint32(1), records[len(records)-1].PublicValues.FlagComplete)

	// Merging all chunks reproduces one whole-run record.
	merged := NewRecord(records[0].Program, 0)
	for _, r := range records {
		merged.Append(r)
	}
	total := 0
	for _, r := range records {
		total += len(r.CpuEvents)
	}
	require.Len(t, merged.CpuEvents, total)
}

func TestAppendAssociative(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 16))
	loop := b.Emit(compiler.NewALU(compiler.XOR, 2, 2, 1))
	b.Emit(compiler.NewALUImm(compiler.SUB, 1, 1, 1))
	b.Emit(compiler.Instruction{Opcode: compiler.BNE, OpA: 1, OpB: 0, OpC: loop, ImmC: true})
	haltWith(b, 0)

	_, records := run(t, b, Options{ChunkSize: 8})
	require.GreaterOrEqual(t, len(records), 3)

	left := NewRecord(records[0].Program, 0)
	left.Append(records[0])
	left.Append(records[1])
	left.Append(records[2])

	mid := NewRecord(records[0].Program, 0)
	mid.Append(records[1])
	mid.Append(records[2])
	right := NewRecord(records[0].Program, 0)
	right.Append(records[0])
	right.Append(mid)

	require.Equal(t, left.CpuEvents, right.CpuEvents)
	require.Equal(t, left.BitwiseEvents, right.BitwiseEvents)
	require.Equal(t, left.ByteLookups, right.ByteLookups)
}

func TestCommitAndHalt(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, SyscallCommit))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 3)) // digest word index
	b.Emit(compiler.NewALUImm(compiler.ADD, 11, 0, 0xABCD))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	haltWith(b, 7)

	e, records := run(t, b, Options{})
	require.Equal(t, uint32(7), e.ExitCode())
	pv := records[len(records)-1].PublicValues
	require.Equal(t, uint32(7), pv.ExitCode)
	require.Equal(t, uint32(0xABCD), pv.CommittedValueDigest[3])
}

func TestHintRead(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, SyscallHintRead))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0x3000))
	b.Emit(compiler.NewALUImm(compiler.ADD, 11, 0, 8))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 0x3000))
	b.Emit(compiler.Instruction{Opcode: compiler.LW, OpA: 2, OpB: 1, OpC: 0, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LW, OpA: 3, OpB: 1, OpC: 4, ImmC: true})
	haltWith(b, 0)

	e, _ := run(t, b, Options{}, []byte{2, 0, 0, 0, 9, 0, 0, 0})
	require.Equal(t, uint32(2), e.reg(2))
	require.Equal(t, uint32(9), e.reg(3))
}

func TestUint256MulZeroModulus(t *testing.T) {
	b := compiler.NewBuilder()
	// x at 0x4000, y at 0x4040, modulus at 0x4060 left zero
	b.SetWord(0x4000, 0xFFFF_FFFF)
	b.SetWord(0x4004, 0x1)
	b.SetWord(0x4040, 0x2)
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, SyscallUint256Mul))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0x4000))
	b.Emit(compiler.NewALUImm(compiler.ADD, 11, 0, 0x4040))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	haltWith(b, 0)

	_, records := run(t, b, Options{})
	evs := records[0].Uint256MulEvents
	require.Len(t, evs, 1)
	// (2^32 - 1 + 2^32) * 2 mod 2^256
	require.Equal(t, uint32(0xFFFF_FFFE), evs[0].Result[0])
	require.Equal(t, uint32(0x3), evs[0].Result[1])
}

func TestUnknownSyscallFails(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, 0x7777))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	e := New(b.Build(), Options{})
	_, err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrUnimplementedSyscall)
	var emuErr *EmulationError
	require.ErrorAs(t, err, &emuErr)
}

func TestCycleBudget(t *testing.T) {
	b := compiler.NewBuilder()
	pc := b.Emit(compiler.NewALU(compiler.ADD, 1, 1, 0))
	b.Emit(compiler.Instruction{Opcode: compiler.JAL, OpA: 0, OpB: pc, ImmB: true})
	e := New(b.Build(), Options{MaxCycles: 100})
	_, err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrCycleBudget)
}
