package chips

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
)

func haltWith(b *compiler.Builder, code uint32) {
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, emulator.SyscallHalt))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, code))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
}

func runProgram(t *testing.T, b *compiler.Builder, opts emulator.Options, inputs ...[]byte) (*compiler.Program, []*emulator.EmulationRecord) {
	t.Helper()
	program := b.Build()
	e := emulator.New(program, opts)
	for _, in := range inputs {
		e.WithInput(in)
	}
	records, err := e.Run(context.Background())
	require.NoError(t, err)
	return program, records
}

// proveAndVerify proves every chunk with the full machine and checks the
// ensemble end to end. Record completion mutates the records, so callers
// assert event counts before calling this.
func proveAndVerify(t *testing.T, program *compiler.Program, records []*emulator.EmulationRecord) (*machine.BaseMachine, *machine.BaseProvingKey, []*machine.BaseProof) {
	t.Helper()
	m := NewRiscvMachine(field.DefaultSpec())
	pk, err := m.Setup(program)
	require.NoError(t, err)
	proofs, err := m.ProveEnsemble(context.Background(), pk, records)
	require.NoError(t, err)
	require.NoError(t, m.VerifyEnsemble(pk.Vk, proofs))
	return m, pk, proofs
}

func TestProveAluMix(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 0x1234))
	b.Emit(compiler.NewALUImm(compiler.ADD, 2, 0, 0xFFFF_FFF9)) // -7
	b.Emit(compiler.NewALU(compiler.ADD, 3, 1, 2))
	b.Emit(compiler.NewALU(compiler.SUB, 4, 1, 2))
	b.Emit(compiler.NewALU(compiler.XOR, 6, 1, 2))
	b.Emit(compiler.NewALU(compiler.OR, 7, 1, 2))
	b.Emit(compiler.NewALU(compiler.AND, 8, 1, 2))
	b.Emit(compiler.NewALU(compiler.MUL, 9, 1, 2))
	b.Emit(compiler.NewALU(compiler.MULH, 11, 1, 2))
	b.Emit(compiler.NewALU(compiler.MULHU, 12, 2, 2))
	b.Emit(compiler.NewALU(compiler.MULHSU, 13, 2, 1))
	b.Emit(compiler.NewALU(compiler.SLT, 14, 2, 1))
	b.Emit(compiler.NewALU(compiler.SLTU, 15, 2, 1))
	b.Emit(compiler.NewALUImm(compiler.SLL, 16, 1, 9))
	b.Emit(compiler.NewALUImm(compiler.SRL, 17, 2, 5))
	b.Emit(compiler.NewALUImm(compiler.SRA, 18, 2, 5))
	// Signed division corner cases: overflow, by zero, mixed signs.
	b.Emit(compiler.NewALUImm(compiler.ADD, 19, 0, 0x8000_0000))
	b.Emit(compiler.NewALUImm(compiler.ADD, 20, 0, 0xFFFF_FFFF))
	b.Emit(compiler.NewALU(compiler.DIV, 21, 19, 20))
	b.Emit(compiler.NewALU(compiler.REM, 22, 19, 20))
	b.Emit(compiler.NewALU(compiler.DIVU, 23, 1, 0))
	b.Emit(compiler.NewALU(compiler.REMU, 24, 1, 0))
	b.Emit(compiler.NewALU(compiler.DIV, 25, 2, 1))
	b.Emit(compiler.NewALU(compiler.REM, 26, 2, 1))
	haltWith(b, 0)

	program, records := runProgram(t, b, emulator.Options{})
	require.Len(t, records, 1)
	r := records[0]
	require.Len(t, r.BitwiseEvents, 3)
	require.Len(t, r.MulEvents, 4)
	require.Len(t, r.DivRemEvents, 6)
	require.Len(t, r.LtEvents, 2)
	require.Len(t, r.ShiftLeft, 1)
	require.Len(t, r.ShiftRight, 2)
	require.Equal(t, uint32(1), r.PublicValues.FlagComplete)
	proveAndVerify(t, program, records)
}

func TestProveControlFlowAndMemory(t *testing.T) {
	b := compiler.NewBuilder()
	pc0 := b.Emit(compiler.NewALU(compiler.ADD, 0, 0, 0))
	b.Emit(compiler.Instruction{Opcode: compiler.JAL, OpA: 1, OpB: pc0 + 12, ImmB: true})
	b.Emit(compiler.NewALUImm(compiler.ADD, 2, 0, 99)) // skipped
	b.Emit(compiler.Instruction{Opcode: compiler.AUIPC, OpA: 3, OpB: 0x100})
	// sum 1..5 into x4
	b.Emit(compiler.NewALUImm(compiler.ADD, 6, 0, 5))
	loop := b.Emit(compiler.NewALU(compiler.ADD, 4, 4, 6))
	b.Emit(compiler.NewALUImm(compiler.SUB, 6, 6, 1))
	b.Emit(compiler.Instruction{Opcode: compiler.BNE, OpA: 6, OpB: 0, OpC: loop, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.BLT, OpA: 4, OpB: 0, OpC: loop, ImmC: true}) // not taken
	// store and reload through every access width
	b.SetWord(0x2000, 0xCAFE_F00D)
	b.Emit(compiler.NewALUImm(compiler.ADD, 7, 0, 0x2000))
	b.Emit(compiler.Instruction{Opcode: compiler.LW, OpA: 8, OpB: 7, OpC: 0, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.SW, OpA: 8, OpB: 7, OpC: 4, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LBU, OpA: 9, OpB: 7, OpC: 0, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LB, OpA: 11, OpB: 7, OpC: 1, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LHU, OpA: 12, OpB: 7, OpC: 0, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LH, OpA: 13, OpB: 7, OpC: 2, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.SB, OpA: 9, OpB: 7, OpC: 8, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.SH, OpA: 12, OpB: 7, OpC: 12, ImmC: true})
	haltWith(b, 3)

	program, records := runProgram(t, b, emulator.Options{})
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0].MemoryEvents)
	require.Equal(t, len(records[0].MemoryInit), len(records[0].MemoryFinalize))
	require.Equal(t, uint32(3), records[0].PublicValues.ExitCode)
	_, _, proofs := proveAndVerify(t, program, records)
	require.Len(t, proofs, 1)
}

func TestProveChunkedExecution(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 48))
	b.Emit(compiler.NewALUImm(compiler.ADD, 2, 0, 0x3000))
	loop := b.Emit(compiler.Instruction{Opcode: compiler.SW, OpA: 1, OpB: 2, OpC: 0, ImmC: true})
	b.Emit(compiler.Instruction{Opcode: compiler.LW, OpA: 3, OpB: 2, OpC: 0, ImmC: true})
	b.Emit(compiler.NewALU(compiler.ADD, 4, 4, 3))
	b.Emit(compiler.NewALUImm(compiler.ADD, 2, 2, 4))
	b.Emit(compiler.NewALUImm(compiler.SUB, 1, 1, 1))
	b.Emit(compiler.Instruction{Opcode: compiler.BNE, OpA: 1, OpB: 0, OpC: loop, ImmC: true})
	haltWith(b, 0)

	program, records := runProgram(t, b, emulator.Options{ChunkSize: 64})
	require.Greater(t, len(records), 1)
	for i, r := range records {
		require.Equal(t, uint32(i), r.PublicValues.Chunk)
	}
	// Memory versions written in one chunk are consumed in a later one, so
	// only the whole ensemble balances the global sum.
	proveAndVerify(t, program, records)
}

func TestProvePrecompiles(t *testing.T) {
	b := compiler.NewBuilder()
	// poseidon2: input at 0x5000 (words 1..16), output at 0x5100
	for i := uint32(0); i < 16; i++ {
		b.SetWord(0x5000+4*i, i+1)
	}
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, emulator.SyscallPoseidon2))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0x5000))
	b.Emit(compiler.NewALUImm(compiler.ADD, 11, 0, 0x5100))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	// sha256 extend: message schedule at 0x6000
	for i := uint32(0); i < 16; i++ {
		b.SetWord(0x6000+4*i, 0x6161_6161)
	}
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, emulator.SyscallSha256Extend))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0x6000))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	// keccak permute: 50-word state at 0x7000, left all zero
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, emulator.SyscallKeccakPermute))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0x7000))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	// uint256 mul: x at 0x4000, y at 0x4040, modulus zero
	b.SetWord(0x4000, 12)
	b.SetWord(0x4040, 5)
	b.Emit(compiler.NewALUImm(compiler.ADD, 5, 0, emulator.SyscallUint256Mul))
	b.Emit(compiler.NewALUImm(compiler.ADD, 10, 0, 0x4000))
	b.Emit(compiler.NewALUImm(compiler.ADD, 11, 0, 0x4040))
	b.Emit(compiler.Instruction{Opcode: compiler.ECALL})
	haltWith(b, 0)

	program, records := runProgram(t, b, emulator.Options{})
	require.Len(t, records, 1)
	r := records[0]
	require.Len(t, r.Poseidon2Events, 1)
	require.Len(t, r.Sha256Events, 1)
	require.Len(t, r.KeccakEvents, 1)
	require.Len(t, r.Uint256MulEvents, 1)
	require.Equal(t, uint32(60), r.Uint256MulEvents[0].Result[0])
	require.Len(t, r.SyscallEvents, 5)
	proveAndVerify(t, program, records)
}

func TestVerifyRejectsTamperedEnsemble(t *testing.T) {
	b := compiler.NewBuilder()
	b.Emit(compiler.NewALUImm(compiler.ADD, 1, 0, 2))
	b.Emit(compiler.NewALU(compiler.MUL, 2, 1, 1))
	haltWith(b, 0)
	program, records := runProgram(t, b, emulator.Options{})
	m, pk, proofs := proveAndVerify(t, program, records)
	require.Len(t, proofs, 1)

	t.Run("public_value", func(t *testing.T) {
		bad := *proofs[0]
		bad.PublicValues = append([]field.Val(nil), proofs[0].PublicValues...)
		bad.PublicValues[3] = field.FromUint32(7) // exit code
		require.ErrorIs(t, m.VerifyEnsemble(pk.Vk, []*machine.BaseProof{&bad}), machine.ErrInvalidProof)
	})

	t.Run("global_sum", func(t *testing.T) {
		bad := *proofs[0]
		bad.GlobalSum = m.Septic().StartPoint()
		require.ErrorIs(t, m.VerifyEnsemble(pk.Vk, []*machine.BaseProof{&bad}), machine.ErrInvalidProof)
	})

	t.Run("opened_value", func(t *testing.T) {
		bad := *proofs[0]
		bad.OpenedValues = append([]machine.ChipOpenedValues(nil), proofs[0].OpenedValues...)
		ml := append([]field.Ext(nil), bad.OpenedValues[0].MainLocal...)
		ml[0] = field.ExtAdd(ml[0], field.ExtOne())
		bad.OpenedValues[0].MainLocal = ml
		require.ErrorIs(t, m.VerifyEnsemble(pk.Vk, []*machine.BaseProof{&bad}), machine.ErrInvalidProof)
	})
}

func TestDivRemWitness(t *testing.T) {
	cases := []struct {
		name string
		op   compiler.Opcode
		b, c uint32
		q, r uint32
	}{
		{"unsigned", compiler.DIVU, 7, 2, 3, 1},
		{"signed_neg_dividend", compiler.DIV, uint32(-7 & 0xFFFF_FFFF), 2, uint32(-3 & 0xFFFF_FFFF), uint32(-1 & 0xFFFF_FFFF)},
		{"signed_neg_divisor", compiler.DIV, 7, uint32(-2 & 0xFFFF_FFFF), uint32(-3 & 0xFFFF_FFFF), 1},
		{"signed_both_neg", compiler.DIV, uint32(-7 & 0xFFFF_FFFF), uint32(-2 & 0xFFFF_FFFF), 3, uint32(-1 & 0xFFFF_FFFF)},
		{"overflow", compiler.DIV, 0x8000_0000, 0xFFFF_FFFF, 0x8000_0000, 0},
		{"div_by_zero", compiler.DIVU, 41, 0, 0xFFFF_FFFF, 41},
		{"signed_div_by_zero", compiler.REM, uint32(-41 & 0xFFFF_FFFF), 0, 0xFFFF_FFFF, uint32(-41 & 0xFFFF_FFFF)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := divremWitness(emulator.AluEvent{Opcode: tc.op, B: tc.b, C: tc.c})
			require.Equal(t, tc.q, w.q)
			require.Equal(t, tc.r, w.r)
			if !w.cZero {
				// The multiplication identity the chip delegates.
				require.Equal(t, w.bAbs, w.mLo+w.rAbs)
				require.Less(t, w.rAbs, w.cAbs)
			}
		})
	}
}

func TestMulRowValues(t *testing.T) {
	wordAt := func(product [8]uint32, lo int) uint32 {
		return product[lo] | product[lo+1]<<8 | product[lo+2]<<16 | product[lo+3]<<24
	}
	cases := []struct {
		name string
		op   compiler.Opcode
		b, c uint32
		want uint32 // the architectural result
	}{
		{"mul", compiler.MUL, 7, 5, 35},
		{"mul_wrap", compiler.MUL, 0xFFFF_FFFF, 0xFFFF_FFFF, 1},
		{"mulh_neg", compiler.MULH, uint32(-7 & 0xFFFF_FFFF), 5, 0xFFFF_FFFF},
		{"mulh_both_neg", compiler.MULH, uint32(-7 & 0xFFFF_FFFF), uint32(-5 & 0xFFFF_FFFF), 0},
		{"mulhu_max", compiler.MULHU, 0xFFFF_FFFF, 0xFFFF_FFFF, 0xFFFF_FFFE},
		{"mulhsu", compiler.MULHSU, uint32(-1 & 0xFFFF_FFFF), 0xFFFF_FFFF, 0xFFFF_FFFF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			product, carry, _, _ := mulRowValues(emulator.AluEvent{Opcode: tc.op, B: tc.b, C: tc.c})
			lo := 4
			if tc.op == compiler.MUL {
				lo = 0
			}
			require.Equal(t, tc.want, wordAt(product, lo))
			for _, cr := range carry {
				require.Less(t, cr, uint32(1<<16))
			}
		})
	}
}

func TestSrLanes(t *testing.T) {
	// srl 0x0000_00F0 >> 4
	w, shr, car := srLanes(emulator.AluEvent{Opcode: compiler.SRL, B: 0xF0, C: 4})
	require.Equal(t, uint32(0xF0), w[0])
	require.Equal(t, uint32(0x0F), shr[0])
	require.Equal(t, uint32(0), car[0])

	// sra of a negative number walks 0xFF into the vacated lanes
	w, shr, _ = srLanes(emulator.AluEvent{Opcode: compiler.SRA, B: 0x8000_0000, C: 31})
	require.Equal(t, uint32(0x80), w[0])
	require.Equal(t, uint32(1), shr[0])
	for i := 1; i < 5; i++ {
		require.Equal(t, uint32(0xFF), w[i])
	}

	// srl never sign-fills
	w, _, _ = srLanes(emulator.AluEvent{Opcode: compiler.SRL, B: 0x8000_0000, C: 24})
	require.Equal(t, uint32(0x80), w[0])
	require.Equal(t, uint32(0), w[1])
}

func TestLtDiffByte(t *testing.T) {
	idx, eq := ltDiffByte([4]uint32{1, 2, 3, 4}, [4]uint32{1, 2, 3, 4})
	require.True(t, eq)
	require.Zero(t, idx)

	idx, eq = ltDiffByte([4]uint32{9, 2, 3, 4}, [4]uint32{1, 2, 3, 4})
	require.False(t, eq)
	require.Equal(t, 0, idx)

	idx, eq = ltDiffByte([4]uint32{1, 2, 3, 4}, [4]uint32{1, 2, 9, 4})
	require.False(t, eq)
	require.Equal(t, 2, idx)
}

func TestBranchWouldTake(t *testing.T) {
	negOne := uint32(0xFFFF_FFFF)
	require.True(t, branchWouldTake(compiler.BEQ, 5, 5))
	require.False(t, branchWouldTake(compiler.BEQ, 5, 6))
	require.True(t, branchWouldTake(compiler.BNE, 5, 6))
	require.True(t, branchWouldTake(compiler.BLT, negOne, 1))
	require.False(t, branchWouldTake(compiler.BLTU, negOne, 1))
	require.True(t, branchWouldTake(compiler.BGE, 1, negOne))
	require.True(t, branchWouldTake(compiler.BGEU, negOne, 1))
}

func TestByteTable(t *testing.T) {
	table := NewByteChip().GeneratePreprocessed(nil)
	require.Equal(t, byteTableRows, table.Height())
	require.Equal(t, bytePreWidth, table.Width)

	row := table.Row(0xA5*256 + 0x0F)
	require.Equal(t, field.FromUint32(0xA5), row[bytePreB])
	require.Equal(t, field.FromUint32(0x0F), row[bytePreC])
	require.Equal(t, field.FromUint32(0x05), row[bytePreAnd])
	require.Equal(t, field.FromUint32(0xAF), row[bytePreOr])
	require.Equal(t, field.FromUint32(0xAA), row[bytePreXor])
	require.Equal(t, field.FromUint32(0), row[bytePreLtu])
	require.Equal(t, field.FromUint32(1), row[bytePreMsb])
	require.Equal(t, field.FromUint32(0xA5>>7), row[bytePreShr])
	require.Equal(t, field.FromUint32(0xA5&0x7F), row[bytePreShrCarry])
}
