package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	ltIsSlt = iota
	ltIsSltu
	ltResult
	ltB // 4 operand bytes, little-endian
	ltC        = ltB + 4
	ltFlag     = ltC + 4 // one-hot over byte positions: most significant differing byte
	ltIsEq     = ltFlag + 4
	ltDiffInv  = ltIsEq + 1
	ltBMsb     = ltDiffInv + 1
	ltCMsb     = ltBMsb + 1
	ltSignDiff = ltCMsb + 1
	ltCmp      = ltSignDiff + 1

	ltWidth = ltCmp + 1
)

// LtChip proves SLT and SLTU. A one-hot flag vector picks the most
// significant byte where the operands differ; the byte table answers the
// unsigned comparison of that pair, and the signed case corrects by the
// operand sign bits when they disagree.
type LtChip struct{}

func NewLtChip() *LtChip { return &LtChip{} }

func (c *LtChip) Name() string           { return "Lt" }
func (c *LtChip) PreprocessedWidth() int { return 0 }
func (c *LtChip) MainWidth() int         { return ltWidth }

func (c *LtChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *LtChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.LtEvents) > 0
}
func (c *LtChip) LocalOnly() bool                  { return true }
func (c *LtChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

// ltDiffByte returns the most significant differing byte pair, counting
// down from byte 3, and whether the operands are equal.
func ltDiffByte(bb, cb [4]uint32) (idx int, eq bool) {
	for i := 3; i >= 0; i-- {
		if bb[i] != cb[i] {
			return i, false
		}
	}
	return 0, true
}

func (c *LtChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.LtEvents), ltWidth)
	for i, ev := range record.LtEvents {
		row := m.Row(i)
		if ev.Opcode == compiler.SLT {
			row[ltIsSlt] = field.One()
		} else {
			row[ltIsSltu] = field.One()
		}
		bb, cb := wordBytes(ev.B), wordBytes(ev.C)
		for j := 0; j < 4; j++ {
			row[ltB+j] = field.FromUint32(bb[j])
			row[ltC+j] = field.FromUint32(cb[j])
		}
		row[ltBMsb] = field.FromUint32(bb[3] >> 7)
		row[ltCMsb] = field.FromUint32(cb[3] >> 7)
		if bb[3]>>7 != cb[3]>>7 {
			row[ltSignDiff] = field.One()
		}
		idx, eq := ltDiffByte(bb, cb)
		if eq {
			row[ltIsEq] = field.One()
		} else {
			row[ltFlag+idx] = field.One()
			d := field.Sub(field.FromUint32(bb[idx]), field.FromUint32(cb[idx]))
			row[ltDiffInv] = field.Inv(d)
			if bb[idx] < cb[idx] {
				row[ltCmp] = field.One()
			}
		}
		row[ltResult] = field.FromUint32(ev.A)
	}
	return m
}

func (c *LtChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.LtEvents, derived.LtEvents} {
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
			if idx, eq := ltDiffByte(bb, cb); !eq {
				var lt uint16
				if bb[idx] < cb[idx] {
					lt = 1
				}
				derived.AddByteLookup(emulator.ByteLookupEvent{
					Opcode: emulator.ByteLtU, A1: lt, B: uint8(bb[idx]), C: uint8(cb[idx]),
				})
			}
		}
	}
}

func (c *LtChip) Eval(b *machine.Builder) {
	isSlt, isSltu := b.Local(ltIsSlt), b.Local(ltIsSltu)
	isReal := add(isSlt, isSltu)
	b.AssertBool(isSlt)
	b.AssertBool(isSltu)
	b.AssertBool(isReal)

	isEq := b.Local(ltIsEq)
	b.AssertBool(isEq)
	flagSum := zero()
	for i := 0; i < 4; i++ {
		f := b.Local(ltFlag + i)
		b.AssertBool(f)
		flagSum = add(flagSum, f)
	}
	b.AssertZero(mul(isReal, sub(add(flagSum, isEq), one())))

	// Bytes above the flagged position agree; under is_eq all four do.
	for i := 0; i < 4; i++ {
		diff := sub(b.Local(ltB+i), b.Local(ltC+i))
		b.AssertZero(mul(isEq, diff))
		for k := 0; k < i; k++ {
			b.AssertZero(mul(b.Local(ltFlag+k), sub(b.Local(ltB+i), b.Local(ltC+i))))
		}
		lookingU8(b, b.Local(ltB+i), isReal)
		lookingU8(b, b.Local(ltC+i), isReal)
	}

	// The flagged pair really differs.
	selDiff := zero()
	for i := 0; i < 4; i++ {
		selDiff = add(selDiff, mul(b.Local(ltFlag+i), sub(b.Local(ltB+i), b.Local(ltC+i))))
	}
	b.AssertEq(mul(selDiff, b.Local(ltDiffInv)), flagSum)

	bs, cs := zero(), zero()
	for i := 0; i < 4; i++ {
		bs = add(bs, mul(b.Local(ltFlag+i), b.Local(ltB+i)))
		cs = add(cs, mul(b.Local(ltFlag+i), b.Local(ltC+i)))
	}
	cmp := b.Local(ltCmp)
	b.AssertBool(cmp)
	b.AssertZero(mul(isEq, cmp))
	lookingByte(b, emulator.ByteLtU, cmp, zero(), bs, cs, mul(isReal, not(isEq)))

	bMsb, cMsb := b.Local(ltBMsb), b.Local(ltCMsb)
	lookingByte(b, emulator.ByteMSB, bMsb, zero(), b.Local(ltB+3), zero(), isReal)
	lookingByte(b, emulator.ByteMSB, cMsb, zero(), b.Local(ltC+3), zero(), isReal)
	signDiff := b.Local(ltSignDiff)
	b.AssertEq(signDiff, sub(add(bMsb, cMsb), mul(cu(2), mul(bMsb, cMsb))))

	// Signed: if the signs differ the negative operand is smaller, so the
	// result is b's sign bit; otherwise the unsigned comparison stands.
	a := b.Local(ltResult)
	signed := add(mul(signDiff, bMsb), mul(not(signDiff), cmp))
	b.AssertEq(a, add(mul(isSltu, cmp), mul(isSlt, signed)))

	bLo := add(b.Local(ltB), mul(cu(256), b.Local(ltB+1)))
	bHi := add(b.Local(ltB+2), mul(cu(256), b.Local(ltB+3)))
	cLo := add(b.Local(ltC), mul(cu(256), b.Local(ltC+1)))
	cHi := add(b.Local(ltC+2), mul(cu(256), b.Local(ltC+3)))
	opcode := add(
		mul(isSlt, cu(uint32(compiler.SLT))),
		mul(isSltu, cu(uint32(compiler.SLTU))))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(opcode, a, zero(), bLo, bHi, cLo, cHi), isReal)
}
