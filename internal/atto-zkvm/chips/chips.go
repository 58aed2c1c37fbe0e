// Package chips implements the RISC-V machine's trace chips: CPU
// instruction execution, the ALU family, the memory argument, syscall
// dispatch, the byte range table, and the global accumulator. Every 32-bit
// machine word is carried as a pair of 16-bit limbs so it fits the 31-bit
// field, and bit-level facts are delegated to the byte table through
// lookups.
package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

// Machine-level public value indices the chips constrain against.
const (
	pvChunk        = 0
	pvStartPc      = 1
	pvNextPc       = 2
	pvExitCode     = 3
	pvFlagComplete = 4
)

type expr = machine.Expr

// Thin aliases over the symbolic constructors; chip constraint code reads a
// lot better without the package qualifier on every node.
func add(l, r expr) expr  { return machine.Add(l, r) }
func sub(l, r expr) expr  { return machine.Sub(l, r) }
func mul(l, r expr) expr  { return machine.Mul(l, r) }
func neg(x expr) expr     { return machine.Neg(x) }
func cu(v uint32) expr    { return machine.ConstU32(v) }
func addN(es ...expr) expr { return machine.AddMany(es...) }

func one() expr  { return cu(1) }
func zero() expr { return cu(0) }

// not returns 1 - x for boolean flags.
func not(x expr) expr { return sub(one(), x) }

// word recombines two 16-bit limbs into the value they represent.
func word(lo, hi expr) expr { return add(lo, mul(cu(1<<16), hi)) }

func limbLo(v uint32) field.Val { return field.FromUint32(v & 0xFFFF) }
func limbHi(v uint32) field.Val { return field.FromUint32(v >> 16) }

// setWord writes a 32-bit value into two consecutive limb columns.
func setWord(row []field.Val, col int, v uint32) {
	row[col] = limbLo(v)
	row[col+1] = limbHi(v)
}

func boolVal(b bool) field.Val {
	if b {
		return field.One()
	}
	return field.Zero()
}

// byteTuple is the shared shape of every byte-table lookup:
// [opcode, a1, a2, b, c].
func byteTuple(op emulator.ByteOpcode, a1, a2, b, c expr) []expr {
	return []expr{cu(uint32(op)), a1, a2, b, c}
}

// lookingU16 range-checks a 16-bit column through the byte table.
func lookingU16(b *machine.Builder, v, mult expr) {
	b.Looking(machine.LookupByte, machine.ScopeRegional,
		byteTuple(emulator.ByteU16Range, v, zero(), zero(), zero()), mult)
}

// lookingU8 range-checks a byte column through the byte table.
func lookingU8(b *machine.Builder, v, mult expr) {
	b.Looking(machine.LookupByte, machine.ScopeRegional,
		byteTuple(emulator.ByteU8Range, zero(), zero(), v, zero()), mult)
}

// lookingByte emits a byte-table operation lookup.
func lookingByte(b *machine.Builder, op emulator.ByteOpcode, a1, a2, bb, cc, mult expr) {
	b.Looking(machine.LookupByte, machine.ScopeRegional, byteTuple(op, a1, a2, bb, cc), mult)
}

// aluTuple is the shared shape of every ALU lookup:
// [opcode, a_lo, a_hi, b_lo, b_hi, c_lo, c_hi].
func aluTuple(op, aLo, aHi, bLo, bHi, cLo, cHi expr) []expr {
	return []expr{op, aLo, aHi, bLo, bHi, cLo, cHi}
}

// newTrace allocates a chip trace padded to the record's pinned height, or
// the next power of two.
func newTrace(record *emulator.EmulationRecord, chip string, rows, width int) *matrix.Dense {
	lg, pinned := record.PinnedLog(chip)
	return matrix.NewDense(matrix.PaddedHeight(rows, lg, pinned), width)
}

// bytesOfLimb splits a 16-bit limb into its two bytes.
func bytesOfLimb(v uint32) (lo, hi uint32) { return v & 0xFF, (v >> 8) & 0xFF }

// wordBytes returns the four little-endian bytes of a 32-bit word.
func wordBytes(v uint32) [4]uint32 {
	return [4]uint32{v & 0xFF, (v >> 8) & 0xFF, (v >> 16) & 0xFF, (v >> 24) & 0xFF}
}
