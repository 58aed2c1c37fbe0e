package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	srIsSrl = iota
	srIsSra
	srCLo
	srCHi
	srB       // 4 operand bytes
	srBits    = srB + 4 // 5 low shift-amount bits
	srCRest   = srBits + 5
	srByteSel = srCRest + 1
	srBitSel  = srByteSel + 4
	srBMsb    = srBitSel + 8
	srFill    = srBMsb + 1 // 0x00 or 0xFF sign filler
	srShr     = srFill + 1 // byte >> bit_amount, 5 lanes
	srCarry   = srShr + 5  // bits shifted out, 5 lanes

	srWidth = srCarry + 5
)

// ShiftRightChip proves SRL and SRA. The byte part of the shift walks the
// operand bytes down with a sign-dependent filler, then the ShrCarry table
// splits each byte into its shifted part and the bits that spill into the
// byte below.
type ShiftRightChip struct{}

func NewShiftRightChip() *ShiftRightChip { return &ShiftRightChip{} }

func (c *ShiftRightChip) Name() string           { return "ShiftRight" }
func (c *ShiftRightChip) PreprocessedWidth() int { return 0 }
func (c *ShiftRightChip) MainWidth() int         { return srWidth }

func (c *ShiftRightChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *ShiftRightChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.ShiftRight) > 0
}
func (c *ShiftRightChip) LocalOnly() bool                  { return true }
func (c *ShiftRightChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// srLanes computes the five walked-down bytes and their shift/carry split.
func srLanes(ev emulator.AluEvent) (w, shr, car [5]uint32) {
	bb := wordBytes(ev.B)
	var fill uint32
	if ev.Opcode == compiler.SRA && bb[3]>>7 == 1 {
		fill = 0xFF
	}
	byteAmt := (ev.C >> 3) & 3
	bitAmt := ev.C & 7
	for i := 0; i < 5; i++ {
		k := i + int(byteAmt)
		if k < 4 {
			w[i] = bb[k]
		} else {
			w[i] = fill
		}
		shr[i] = w[i] >> bitAmt
		car[i] = w[i] & ((1 << bitAmt) - 1)
	}
	return w, shr, car
}

func (c *ShiftRightChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.ShiftRight), srWidth)
	for i, ev := range record.ShiftRight {
		row := m.Row(i)
		if ev.Opcode == compiler.SRA {
			row[srIsSra] = field.One()
		} else {
			row[srIsSrl] = field.One()
		}
		setWord(row, srCLo, ev.C)
		bb := wordBytes(ev.B)
		for j := 0; j < 4; j++ {
			row[srB+j] = field.FromUint32(bb[j])
		}
		for j := 0; j < 5; j++ {
			row[srBits+j] = field.FromUint32((ev.C >> j) & 1)
		}
		row[srCRest] = field.FromUint32((ev.C & 0xFFFF) >> 5)
		row[srByteSel+int((ev.C>>3)&3)] = field.One()
		row[srBitSel+int(ev.C&7)] = field.One()
		row[srBMsb] = field.FromUint32(bb[3] >> 7)
		if ev.Opcode == compiler.SRA && bb[3]>>7 == 1 {
			row[srFill] = field.FromUint32(0xFF)
		}
		_, shr, car := srLanes(ev)
		for j := 0; j < 5; j++ {
			row[srShr+j] = field.FromUint32(shr[j])
			row[srCarry+j] = field.FromUint32(car[j])
		}
	}
	return m
}

func (c *ShiftRightChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.ShiftRight, derived.ShiftRight} {
		for _, ev := range evs {
			bb := wordBytes(ev.B)
			for j := 0; j < 4; j++ {
				derived.AddU8Range(uint8(bb[j]))
			}
			derived.AddByteLookup(emulator.ByteLookupEvent{
				Opcode: emulator.ByteMSB, A1: uint16(bb[3] >> 7), B: uint8(bb[3]),
			})
			w, shr, car := srLanes(ev)
			bitAmt := uint8(ev.C & 7)
			for j := 0; j < 5; j++ {
				derived.AddByteLookup(emulator.ByteLookupEvent{
					Opcode: emulator.ByteShrCarry,
					A1:     uint16(shr[j]), A2: uint8(car[j]),
					B: uint8(w[j]), C: bitAmt,
				})
			}
			derived.AddU16Range(uint16((ev.C & 0xFFFF) >> 5))
		}
	}
}

func (c *ShiftRightChip) Eval(b *machine.Builder) {
	isSrl, isSra := b.Local(srIsSrl), b.Local(srIsSra)
	isReal := add(isSrl, isSra)
	b.AssertBool(isSrl)
	b.AssertBool(isSra)
	b.AssertBool(isReal)

	cLo, cHi := b.Local(srCLo), b.Local(srCHi)
	bits := make([]expr, 5)
	bitVal := zero()
	for j := 0; j < 5; j++ {
		bits[j] = b.Local(srBits + j)
		b.AssertBool(bits[j])
		bitVal = add(bitVal, mul(cu(1<<j), bits[j]))
	}
	b.AssertEq(cLo, add(bitVal, mul(cu(32), b.Local(srCRest))))
	lookingU16(b, b.Local(srCRest), isReal)

	byteSel := make([]expr, 4)
	byteSum, byteIdx := zero(), zero()
	for j := 0; j < 4; j++ {
		byteSel[j] = b.Local(srByteSel + j)
		b.AssertBool(byteSel[j])
		byteSum = add(byteSum, byteSel[j])
		byteIdx = add(byteIdx, mul(cu(uint32(j)), byteSel[j]))
	}
	b.AssertZero(mul(isReal, sub(byteSum, one())))
	b.AssertEq(byteIdx, add(bits[3], mul(cu(2), bits[4])))

	bitSel := make([]expr, 8)
	bitSum, bitIdx, carryMult := zero(), zero(), zero()
	for j := 0; j < 8; j++ {
		bitSel[j] = b.Local(srBitSel + j)
		b.AssertBool(bitSel[j])
		bitSum = add(bitSum, bitSel[j])
		bitIdx = add(bitIdx, mul(cu(uint32(j)), bitSel[j]))
		// 2^(8-j); at j == 0 every carry lane is zero so the weight is moot.
		carryMult = add(carryMult, mul(cu(uint32(1)<<(8-uint(j))), bitSel[j]))
	}
	b.AssertZero(mul(isReal, sub(bitSum, one())))
	bitAmt := addN(bits[0], mul(cu(2), bits[1]), mul(cu(4), bits[2]))
	b.AssertEq(bitIdx, bitAmt)

	bMsb := b.Local(srBMsb)
	lookingByte(b, emulator.ByteMSB, bMsb, zero(), b.Local(srB+3), zero(), isReal)
	fill := b.Local(srFill)
	b.AssertEq(fill, mul(cu(255), mul(isSra, bMsb)))
	for j := 0; j < 4; j++ {
		lookingU8(b, b.Local(srB+j), isReal)
	}

	// Walked-down bytes: lane i reads b_{i+byte_amount}, or the filler past
	// the top byte. Lane 4 is pure filler.
	for i := 0; i < 5; i++ {
		var wi expr
		if i == 4 {
			wi = fill
		} else {
			wi = zero()
			for k := 0; k < 4; k++ {
				src := fill
				if i+k < 4 {
					src = b.Local(srB + i + k)
				}
				wi = add(wi, mul(byteSel[k], src))
			}
		}
		lookingByte(b, emulator.ByteShrCarry,
			b.Local(srShr+i), b.Local(srCarry+i), wi, bitAmt, isReal)
	}

	// Result byte j = shr_j | carry_{j+1} << (8 - bit_amount).
	res := make([]expr, 4)
	for j := 0; j < 4; j++ {
		res[j] = add(b.Local(srShr+j), mul(b.Local(srCarry+j+1), carryMult))
	}
	aLo := add(res[0], mul(cu(256), res[1]))
	aHi := add(res[2], mul(cu(256), res[3]))
	bLo := add(b.Local(srB), mul(cu(256), b.Local(srB+1)))
	bHi := add(b.Local(srB+2), mul(cu(256), b.Local(srB+3)))
	opcode := add(
		mul(isSrl, cu(uint32(compiler.SRL))),
		mul(isSra, cu(uint32(compiler.SRA))))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(opcode, aLo, aHi, bLo, bHi, cLo, cHi), isReal)
}
