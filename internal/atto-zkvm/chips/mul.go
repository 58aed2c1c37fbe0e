package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	mulIsMul = iota
	mulIsMulh
	mulIsMulhu
	mulIsMulhsu
	mulBMsb
	mulCMsb
	mulBNeg
	mulCNeg
	mulB       // 4 operand bytes
	mulC       = mulB + 4
	mulProduct = mulC + 4 // 8 product bytes
	mulCarry   = mulProduct + 8

	mulWidth = mulCarry + 8
)

// MulChip proves the four RV32M multiply variants with a schoolbook byte
// convolution over the sign-extended 8-byte operands. The low half of the
// 64-bit product is untouched by sign extension, so MUL shares the same
// convolution as the high-half variants.
type MulChip struct{}

func NewMulChip() *MulChip { return &MulChip{} }

func (c *MulChip) Name() string           { return "Mul" }
func (c *MulChip) PreprocessedWidth() int { return 0 }
func (c *MulChip) MainWidth() int         { return mulWidth }

func (c *MulChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *MulChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.MulEvents) > 0
}
func (c *MulChip) LocalOnly() bool                  { return true }
func (c *MulChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// mulRowValues computes the witness bytes a verifier-side constraint row
// expects for one multiply event.
func mulRowValues(ev emulator.AluEvent) (product, carry [8]uint32, bNeg, cNeg bool) {
	bb, cb := wordBytes(ev.B), wordBytes(ev.C)
	bNeg = (ev.Opcode == compiler.MULH || ev.Opcode == compiler.MULHSU) && bb[3]>>7 == 1
	cNeg = ev.Opcode == compiler.MULH && cb[3]>>7 == 1
	var be, ce [8]uint32
	for j := 0; j < 4; j++ {
		be[j], ce[j] = bb[j], cb[j]
	}
	for j := 4; j < 8; j++ {
		if bNeg {
			be[j] = 0xFF
		}
		if cNeg {
			ce[j] = 0xFF
		}
	}
	var acc uint32
	for i := 0; i < 8; i++ {
		t := acc
		for j := 0; j <= i; j++ {
			if j < 8 && i-j < 8 {
				t += be[j] * ce[i-j]
			}
		}
		product[i] = t & 0xFF
		carry[i] = t >> 8
		acc = carry[i]
	}
	return product, carry, bNeg, cNeg
}

func (c *MulChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.MulEvents), mulWidth)
	for i, ev := range record.MulEvents {
		row := m.Row(i)
		switch ev.Opcode {
		case compiler.MUL:
			row[mulIsMul] = field.One()
		case compiler.MULH:
			row[mulIsMulh] = field.One()
		case compiler.MULHU:
			row[mulIsMulhu] = field.One()
		default:
			row[mulIsMulhsu] = field.One()
		}
		bb, cb := wordBytes(ev.B), wordBytes(ev.C)
		for j := 0; j < 4; j++ {
			row[mulB+j] = field.FromUint32(bb[j])
			row[mulC+j] = field.FromUint32(cb[j])
		}
		row[mulBMsb] = field.FromUint32(bb[3] >> 7)
		row[mulCMsb] = field.FromUint32(cb[3] >> 7)
		product, carry, bNeg, cNeg := mulRowValues(ev)
		row[mulBNeg] = boolVal(bNeg)
		row[mulCNeg] = boolVal(cNeg)
		for j := 0; j < 8; j++ {
			row[mulProduct+j] = field.FromUint32(product[j])
			row[mulCarry+j] = field.FromUint32(carry[j])
		}
	}
	return m
}

func (c *MulChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.MulEvents, derived.MulEvents} {
		for _, ev := range evs {
			bb, cb := wordBytes(ev.B), wordBytes(ev.C)
			for j := 0; j < 4; j++ {
				derived.AddU8Range(uint8(bb[j]))
				derived.AddU8Range(uint8(cb[j]))
			}
			derived.AddByteLookup(emulator.ByteLookupEvent{
				Opcode: emulator.ByteMSB, A1: uint16(bb[3] >> 7), B: uint8(bb[3]),
			})
			derived.AddByteLookup(emulator.ByteLookupEvent{
				Opcode: emulator.ByteMSB, A1: uint16(cb[3] >> 7), B: uint8(cb[3]),
			})
			product, carry, _, _ := mulRowValues(ev)
			for j := 0; j < 8; j++ {
				derived.AddU8Range(uint8(product[j]))
				derived.AddU16Range(uint16(carry[j]))
			}
		}
	}
}

func (c *MulChip) Eval(b *machine.Builder) {
	isMul, isMulh := b.Local(mulIsMul), b.Local(mulIsMulh)
	isMulhu, isMulhsu := b.Local(mulIsMulhu), b.Local(mulIsMulhsu)
	isReal := addN(isMul, isMulh, isMulhu, isMulhsu)
	for _, f := range []expr{isMul, isMulh, isMulhu, isMulhsu, isReal} {
		b.AssertBool(f)
	}

	bMsb, cMsb := b.Local(mulBMsb), b.Local(mulCMsb)
	bNeg, cNeg := b.Local(mulBNeg), b.Local(mulCNeg)
	lookingByte(b, emulator.ByteMSB, bMsb, zero(), b.Local(mulB+3), zero(), isReal)
	lookingByte(b, emulator.ByteMSB, cMsb, zero(), b.Local(mulC+3), zero(), isReal)
	b.AssertZero(sub(bNeg, mul(bMsb, add(isMulh, isMulhsu))))
	b.AssertZero(sub(cNeg, mul(cMsb, isMulh)))

	// Sign-extended operand bytes: concrete columns below index 4, the
	// replicated sign byte above.
	bByte := func(j int) expr {
		if j < 4 {
			return b.Local(mulB + j)
		}
		return mul(bNeg, cu(255))
	}
	cByte := func(j int) expr {
		if j < 4 {
			return b.Local(mulC + j)
		}
		return mul(cNeg, cu(255))
	}

	for j := 0; j < 4; j++ {
		lookingU8(b, b.Local(mulB+j), isReal)
		lookingU8(b, b.Local(mulC+j), isReal)
	}
	for i := 0; i < 8; i++ {
		conv := zero()
		for j := 0; j <= i; j++ {
			if i-j < 8 {
				conv = add(conv, mul(bByte(j), cByte(i-j)))
			}
		}
		if i > 0 {
			conv = add(conv, b.Local(mulCarry+i-1))
		}
		b.AssertEq(conv, add(b.Local(mulProduct+i), mul(cu(256), b.Local(mulCarry+i))))
		lookingU8(b, b.Local(mulProduct+i), isReal)
		lookingU16(b, b.Local(mulCarry+i), isReal)
	}

	pLimb := func(base int) expr {
		return add(b.Local(mulProduct+base), mul(cu(256), b.Local(mulProduct+base+1)))
	}
	isHigh := addN(isMulh, isMulhu, isMulhsu)
	aLo := add(mul(isMul, pLimb(0)), mul(isHigh, pLimb(4)))
	aHi := add(mul(isMul, pLimb(2)), mul(isHigh, pLimb(6)))
	bLo := add(b.Local(mulB), mul(cu(256), b.Local(mulB+1)))
	bHi := add(b.Local(mulB+2), mul(cu(256), b.Local(mulB+3)))
	cLo := add(b.Local(mulC), mul(cu(256), b.Local(mulC+1)))
	cHi := add(b.Local(mulC+2), mul(cu(256), b.Local(mulC+3)))

	opcode := addN(
		mul(isMul, cu(uint32(compiler.MUL))),
		mul(isMulh, cu(uint32(compiler.MULH))),
		mul(isMulhu, cu(uint32(compiler.MULHU))),
		mul(isMulhsu, cu(uint32(compiler.MULHSU))))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(opcode, aLo, aHi, bLo, bHi, cLo, cHi), isReal)
}
