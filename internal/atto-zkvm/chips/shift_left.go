package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	sllIsReal = iota
	sllCLo
	sllCHi
	sllB       // 4 operand bytes
	sllBits    = sllB + 4 // 5 low shift-amount bits
	sllCRest   = sllBits + 5
	sllByteSel = sllCRest + 1 // one-hot byte shift 0..3
	sllBitSel  = sllByteSel + 4 // one-hot bit shift 0..7
	sllOut     = sllBitSel + 8 // bytes of b << bit_amount
	sllCarry   = sllOut + 4

	sllWidth = sllCarry + 4
)

// ShiftLeftChip proves SLL by splitting the shift amount into a bit part
// and a byte part. Each operand byte is multiplied by 2^bit with an 8-bit
// carry into the next byte, then the result bytes are selected with a byte
// rotation. Only the low five bits of c matter.
type ShiftLeftChip struct{}

func NewShiftLeftChip() *ShiftLeftChip { return &ShiftLeftChip{} }

func (c *ShiftLeftChip) Name() string           { return "ShiftLeft" }
func (c *ShiftLeftChip) PreprocessedWidth() int { return 0 }
func (c *ShiftLeftChip) MainWidth() int         { return sllWidth }

func (c *ShiftLeftChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *ShiftLeftChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.ShiftLeft) > 0
}
func (c *ShiftLeftChip) LocalOnly() bool                  { return true }
func (c *ShiftLeftChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *ShiftLeftChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.ShiftLeft), sllWidth)
	for i, ev := range record.ShiftLeft {
		row := m.Row(i)
		row[sllIsReal] = field.One()
		setWord(row, sllCLo, ev.C)
		bb := wordBytes(ev.B)
		for j := 0; j < 4; j++ {
			row[sllB+j] = field.FromUint32(bb[j])
		}
		for j := 0; j < 5; j++ {
			row[sllBits+j] = field.FromUint32((ev.C >> j) & 1)
		}
		row[sllCRest] = field.FromUint32((ev.C & 0xFFFF) >> 5)
		bitAmt := ev.C & 7
		byteAmt := (ev.C >> 3) & 3
		row[sllByteSel+int(byteAmt)] = field.One()
		row[sllBitSel+int(bitAmt)] = field.One()
		var carry uint32
		for j := 0; j < 4; j++ {
			t := bb[j]<<bitAmt + carry
			row[sllOut+j] = field.FromUint32(t & 0xFF)
			carry = t >> 8
			row[sllCarry+j] = field.FromUint32(carry)
		}
	}
	return m
}

func (c *ShiftLeftChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.ShiftLeft, derived.ShiftLeft} {
		for _, ev := range evs {
			bb := wordBytes(ev.B)
			bitAmt := ev.C & 7
			var carry uint32
			for j := 0; j < 4; j++ {
				derived.AddU8Range(uint8(bb[j]))
				t := bb[j]<<bitAmt + carry
				derived.AddU8Range(uint8(t & 0xFF))
				carry = t >> 8
				derived.AddU8Range(uint8(carry))
			}
			derived.AddU16Range(uint16((ev.C & 0xFFFF) >> 5))
		}
	}
}

func (c *ShiftLeftChip) Eval(b *machine.Builder) {
	isReal := b.Local(sllIsReal)
	b.AssertBool(isReal)

	// Shift-amount decomposition: c_lo = bits + 32 * rest.
	cLo, cHi := b.Local(sllCLo), b.Local(sllCHi)
	bits := make([]expr, 5)
	bitVal := zero()
	for j := 0; j < 5; j++ {
		bits[j] = b.Local(sllBits + j)
		b.AssertBool(bits[j])
		bitVal = add(bitVal, mul(cu(1<<j), bits[j]))
	}
	b.AssertEq(cLo, add(bitVal, mul(cu(32), b.Local(sllCRest))))
	lookingU16(b, b.Local(sllCRest), isReal)

	// One-hot selectors bound to the decomposed amount.
	byteSel := make([]expr, 4)
	byteSum, byteIdx := zero(), zero()
	for j := 0; j < 4; j++ {
		byteSel[j] = b.Local(sllByteSel + j)
		b.AssertBool(byteSel[j])
		byteSum = add(byteSum, byteSel[j])
		byteIdx = add(byteIdx, mul(cu(uint32(j)), byteSel[j]))
	}
	b.AssertZero(mul(isReal, sub(byteSum, one())))
	b.AssertEq(byteIdx, add(bits[3], mul(cu(2), bits[4])))

	bitSel := make([]expr, 8)
	bitSum, bitIdx := zero(), zero()
	mult := zero()
	for j := 0; j < 8; j++ {
		bitSel[j] = b.Local(sllBitSel + j)
		b.AssertBool(bitSel[j])
		bitSum = add(bitSum, bitSel[j])
		bitIdx = add(bitIdx, mul(cu(uint32(j)), bitSel[j]))
		mult = add(mult, mul(cu(1<<j), bitSel[j]))
	}
	b.AssertZero(mul(isReal, sub(bitSum, one())))
	b.AssertEq(bitIdx, addN(bits[0], mul(cu(2), bits[1]), mul(cu(4), bits[2])))

	// Bit shift: out_j + 256*carry_j = b_j * 2^bit + carry_{j-1}.
	for j := 0; j < 4; j++ {
		lhs := mul(b.Local(sllB+j), mult)
		if j > 0 {
			lhs = add(lhs, b.Local(sllCarry+j-1))
		}
		b.AssertEq(lhs, add(b.Local(sllOut+j), mul(cu(256), b.Local(sllCarry+j))))
		lookingU8(b, b.Local(sllB+j), isReal)
		lookingU8(b, b.Local(sllOut+j), isReal)
		lookingU8(b, b.Local(sllCarry+j), isReal)
	}

	// Byte rotation: result byte j comes from out_{j-byte_amount}.
	res := make([]expr, 4)
	for j := 0; j < 4; j++ {
		res[j] = zero()
		for k := 0; k <= j; k++ {
			res[j] = add(res[j], mul(byteSel[k], b.Local(sllOut+j-k)))
		}
	}
	aLo := add(res[0], mul(cu(256), res[1]))
	aHi := add(res[2], mul(cu(256), res[3]))
	bLo := add(b.Local(sllB), mul(cu(256), b.Local(sllB+1)))
	bHi := add(b.Local(sllB+2), mul(cu(256), b.Local(sllB+3)))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(cu(uint32(compiler.SLL)), aLo, aHi, bLo, bHi, cLo, cHi), isReal)
}
