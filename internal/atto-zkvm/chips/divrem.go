package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	divremIsDiv = iota
	divremIsDivu
	divremIsRem
	divremIsRemu
	divremA // result limbs
	divremB = divremA + 2
	divremC = divremB + 2
	divremQ = divremC + 2 // quotient limbs
	divremR = divremQ + 2 // remainder limbs
	divremBAbs = divremR + 2
	divremCAbs = divremBAbs + 2
	divremQAbs = divremCAbs + 2
	divremRAbs = divremQAbs + 2
	divremMLo  = divremRAbs + 2 // low word of q_abs * c_abs
)

const (
	divremBNeg = divremMLo + 2 + iota
	divremCNeg
	divremQNeg
	divremRNeg
	divremBMsb
	divremCMsb
	divremBHi8 // high byte of b_hi
	divremBHiRest
	divremCHi8
	divremCHiRest
	divremNbCarry
	divremNcCarry
	divremNqCarry
	divremNrCarry
	divremQNz
	divremQInv
	divremRNz
	divremRInv
	divremCZero
	divremCInv

	divremWidth
)

// DivRemChip proves the four RV32M divide variants by reducing them to
// absolute values and delegating the heavy identities to the other ALU
// chips: mul proves q_abs*c_abs exactly, add-sub proves
// b_abs = lo(q_abs*c_abs) + r_abs, and two unsigned compares pin
// r_abs < c_abs and lo(q_abs*c_abs) <= b_abs so nothing wraps. Division by
// zero follows the RISC-V convention q = 0xFFFFFFFF, r = b; the signed
// overflow case falls out of the absolute-value identities without special
// handling.
type DivRemChip struct{}

func NewDivRemChip() *DivRemChip { return &DivRemChip{} }

func (c *DivRemChip) Name() string           { return "DivRem" }
func (c *DivRemChip) PreprocessedWidth() int { return 0 }
func (c *DivRemChip) MainWidth() int         { return divremWidth }

func (c *DivRemChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *DivRemChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.DivRemEvents) > 0
}
func (c *DivRemChip) LocalOnly() bool                  { return true }
func (c *DivRemChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

type divremRow struct {
	signed                 bool
	bNeg, cNeg, qNeg, rNeg bool
	bAbs, cAbs             uint32
	q, r, qAbs, rAbs, mLo  uint32
	cZero                  bool
}

func divremWitness(ev emulator.AluEvent) divremRow {
	w := divremRow{signed: ev.Opcode == compiler.DIV || ev.Opcode == compiler.REM}
	w.bNeg = w.signed && int32(ev.B) < 0
	w.cNeg = w.signed && int32(ev.C) < 0
	w.bAbs, w.cAbs = ev.B, ev.C
	if w.bNeg {
		w.bAbs = -ev.B
	}
	if w.cNeg {
		w.cAbs = -ev.C
	}
	if ev.C == 0 {
		w.cZero = true
		w.q, w.r = 0xFFFFFFFF, ev.B
		w.rAbs = w.bAbs
		w.rNeg = w.bNeg && w.rAbs != 0
		return w
	}
	w.qAbs, w.rAbs = w.bAbs/w.cAbs, w.bAbs%w.cAbs
	w.mLo = w.qAbs * w.cAbs
	w.qNeg = w.bNeg != w.cNeg && w.qAbs != 0
	w.rNeg = w.bNeg && w.rAbs != 0
	w.q, w.r = w.qAbs, w.rAbs
	if w.qNeg {
		w.q = -w.qAbs
	}
	if w.rNeg {
		w.r = -w.rAbs
	}
	return w
}

func negCarry(v, abs uint32) field.Val {
	// Low-limb carry of v + abs = 2^32.
	return field.FromUint32(((v & 0xFFFF) + (abs & 0xFFFF)) >> 16)
}

func (c *DivRemChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.DivRemEvents), divremWidth)
	for i, ev := range record.DivRemEvents {
		row := m.Row(i)
		switch ev.Opcode {
		case compiler.DIV:
			row[divremIsDiv] = field.One()
		case compiler.DIVU:
			row[divremIsDivu] = field.One()
		case compiler.REM:
			row[divremIsRem] = field.One()
		default:
			row[divremIsRemu] = field.One()
		}
		w := divremWitness(ev)
		setWord(row, divremA, ev.A)
		setWord(row, divremB, ev.B)
		setWord(row, divremC, ev.C)
		setWord(row, divremQ, w.q)
		setWord(row, divremR, w.r)
		setWord(row, divremBAbs, w.bAbs)
		setWord(row, divremCAbs, w.cAbs)
		setWord(row, divremQAbs, w.qAbs)
		setWord(row, divremRAbs, w.rAbs)
		setWord(row, divremMLo, w.mLo)
		row[divremBNeg] = boolVal(w.bNeg)
		row[divremCNeg] = boolVal(w.cNeg)
		row[divremQNeg] = boolVal(w.qNeg)
		row[divremRNeg] = boolVal(w.rNeg)
		row[divremBMsb] = field.FromUint32(ev.B >> 31)
		row[divremCMsb] = field.FromUint32(ev.C >> 31)
		row[divremBHi8] = field.FromUint32(ev.B >> 24)
		row[divremBHiRest] = field.FromUint32((ev.B >> 16) & 0xFF)
		row[divremCHi8] = field.FromUint32(ev.C >> 24)
		row[divremCHiRest] = field.FromUint32((ev.C >> 16) & 0xFF)
		if w.bNeg {
			row[divremNbCarry] = negCarry(ev.B, w.bAbs)
		}
		if w.cNeg {
			row[divremNcCarry] = negCarry(ev.C, w.cAbs)
		}
		if w.qNeg {
			row[divremNqCarry] = negCarry(w.q, w.qAbs)
		}
		if w.rNeg {
			row[divremNrCarry] = negCarry(w.r, w.rAbs)
		}
		if w.qAbs != 0 {
			row[divremQNz] = field.One()
			s := field.FromUint32((w.qAbs & 0xFFFF) + (w.qAbs >> 16))
			row[divremQInv] = field.Inv(s)
		}
		if w.rAbs != 0 {
			row[divremRNz] = field.One()
			s := field.FromUint32((w.rAbs & 0xFFFF) + (w.rAbs >> 16))
			row[divremRInv] = field.Inv(s)
		}
		if w.cZero {
			row[divremCZero] = field.One()
		} else {
			s := field.FromUint32((ev.C & 0xFFFF) + (ev.C >> 16))
			row[divremCInv] = field.Inv(s)
		}
	}
	return m
}

func (c *DivRemChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.DivRemEvents, derived.DivRemEvents} {
		for _, ev := range evs {
			w := divremWitness(ev)
			if !w.cZero {
				derived.AddAlu(emulator.AluEvent{Opcode: compiler.MUL, A: w.mLo, B: w.qAbs, C: w.cAbs})
				derived.AddAlu(emulator.AluEvent{Opcode: compiler.MULHU, A: 0, B: w.qAbs, C: w.cAbs})
				derived.AddAlu(emulator.AluEvent{Opcode: compiler.ADD, A: w.bAbs, B: w.mLo, C: w.rAbs})
				derived.AddAlu(emulator.AluEvent{Opcode: compiler.SLTU, A: 1, B: w.rAbs, C: w.cAbs})
				derived.AddAlu(emulator.AluEvent{Opcode: compiler.SLTU, A: 0, B: w.bAbs, C: w.mLo})
			}
			for _, v := range []uint32{w.q, w.r, w.bAbs, w.cAbs, w.qAbs, w.rAbs, w.mLo} {
				derived.AddU16Range(uint16(v))
				derived.AddU16Range(uint16(v >> 16))
			}
			derived.AddU8Range(uint8(ev.B >> 24))
			derived.AddU8Range(uint8((ev.B >> 16) & 0xFF))
			derived.AddU8Range(uint8(ev.C >> 24))
			derived.AddU8Range(uint8((ev.C >> 16) & 0xFF))
			derived.AddByteLookup(emulator.ByteLookupEvent{
				Opcode: emulator.ByteMSB, A1: uint16(ev.B >> 31), B: uint8(ev.B >> 24),
			})
			derived.AddByteLookup(emulator.ByteLookupEvent{
				Opcode: emulator.ByteMSB, A1: uint16(ev.C >> 31), B: uint8(ev.C >> 24),
			})
		}
	}
}

// negationIdentity constrains abs = |v| for a two's complement word held in
// limb columns: when neg is set, v + abs = 2^32 limb-wise with a boolean
// carry, otherwise abs = v. An extra gate g scopes the whole identity.
func negationIdentity(b *machine.Builder, g expr, vBase, absBase, negCol, carryCol int) {
	vLo, vHi := b.Local(vBase), b.Local(vBase+1)
	aLo, aHi := b.Local(absBase), b.Local(absBase+1)
	negF, carry := b.Local(negCol), b.Local(carryCol)
	b.AssertBool(carry)
	b.AssertZero(mul(g, mul(not(negF), sub(aLo, vLo))))
	b.AssertZero(mul(g, mul(not(negF), sub(aHi, vHi))))
	b.AssertZero(mul(g, mul(negF, sub(add(vLo, aLo), mul(cu(1<<16), carry)))))
	b.AssertZero(mul(g, mul(negF, sub(addN(vHi, aHi, carry), cu(1<<16)))))
}

// nonzeroFlag constrains nz to be the boolean "limb sum is nonzero" with an
// inverse witness.
func nonzeroFlag(b *machine.Builder, base, nzCol, invCol int) expr {
	s := add(b.Local(base), b.Local(base+1))
	nz := b.Local(nzCol)
	b.AssertBool(nz)
	b.AssertZero(mul(not(nz), s))
	b.AssertEq(nz, mul(s, b.Local(invCol)))
	return nz
}

func (c *DivRemChip) Eval(b *machine.Builder) {
	isDiv, isDivu := b.Local(divremIsDiv), b.Local(divremIsDivu)
	isRem, isRemu := b.Local(divremIsRem), b.Local(divremIsRemu)
	isReal := addN(isDiv, isDivu, isRem, isRemu)
	for _, f := range []expr{isDiv, isDivu, isRem, isRemu, isReal} {
		b.AssertBool(f)
	}
	isSigned := add(isDiv, isRem)

	bLo, bHi := b.Local(divremB), b.Local(divremB+1)
	cLo, cHi := b.Local(divremC), b.Local(divremC+1)

	// Operand sign bits via top-byte decomposition and the MSB table.
	b.AssertEq(bHi, add(b.Local(divremBHiRest), mul(cu(256), b.Local(divremBHi8))))
	b.AssertEq(cHi, add(b.Local(divremCHiRest), mul(cu(256), b.Local(divremCHi8))))
	for _, col := range []int{divremBHi8, divremBHiRest, divremCHi8, divremCHiRest} {
		lookingU8(b, b.Local(col), isReal)
	}
	bMsb, cMsb := b.Local(divremBMsb), b.Local(divremCMsb)
	lookingByte(b, emulator.ByteMSB, bMsb, zero(), b.Local(divremBHi8), zero(), isReal)
	lookingByte(b, emulator.ByteMSB, cMsb, zero(), b.Local(divremCHi8), zero(), isReal)

	bNeg, cNeg := b.Local(divremBNeg), b.Local(divremCNeg)
	b.AssertEq(bNeg, mul(bMsb, isSigned))
	b.AssertEq(cNeg, mul(cMsb, isSigned))
	negationIdentity(b, one(), divremB, divremBAbs, divremBNeg, divremNbCarry)
	negationIdentity(b, one(), divremC, divremCAbs, divremCNeg, divremNcCarry)

	// Zero divisor flag.
	cZero := b.Local(divremCZero)
	b.AssertBool(cZero)
	sc := add(cLo, cHi)
	b.AssertZero(mul(cZero, sc))
	b.AssertZero(mul(isReal, sub(add(cZero, mul(sc, b.Local(divremCInv))), one())))

	qLo, qHi := b.Local(divremQ), b.Local(divremQ+1)
	rLo, rHi := b.Local(divremR), b.Local(divremR+1)
	b.AssertZero(mul(cZero, sub(qLo, cu(0xFFFF))))
	b.AssertZero(mul(cZero, sub(qHi, cu(0xFFFF))))
	b.AssertZero(mul(cZero, sub(rLo, bLo)))
	b.AssertZero(mul(cZero, sub(rHi, bHi)))

	negationIdentity(b, not(cZero), divremQ, divremQAbs, divremQNeg, divremNqCarry)
	negationIdentity(b, not(cZero), divremR, divremRAbs, divremRNeg, divremNrCarry)

	qNz := nonzeroFlag(b, divremQAbs, divremQNz, divremQInv)
	rNz := nonzeroFlag(b, divremRAbs, divremRNz, divremRInv)
	qNeg, rNeg := b.Local(divremQNeg), b.Local(divremRNeg)
	signXor := sub(add(bNeg, cNeg), mul(cu(2), mul(bNeg, cNeg)))
	b.AssertEq(qNeg, mul(signXor, qNz))
	b.AssertEq(rNeg, mul(bNeg, rNz))

	aLo, aHi := b.Local(divremA), b.Local(divremA+1)
	b.AssertZero(mul(add(isDiv, isDivu), sub(aLo, qLo)))
	b.AssertZero(mul(add(isDiv, isDivu), sub(aHi, qHi)))
	b.AssertZero(mul(add(isRem, isRemu), sub(aLo, rLo)))
	b.AssertZero(mul(add(isRem, isRemu), sub(aHi, rHi)))

	for _, base := range []int{divremQ, divremR, divremBAbs, divremCAbs, divremQAbs, divremRAbs, divremMLo} {
		lookingU16(b, b.Local(base), isReal)
		lookingU16(b, b.Local(base+1), isReal)
	}

	// Delegations, active only for a nonzero divisor.
	g := mul(isReal, not(cZero))
	qaLo, qaHi := b.Local(divremQAbs), b.Local(divremQAbs+1)
	caLo, caHi := b.Local(divremCAbs), b.Local(divremCAbs+1)
	raLo, raHi := b.Local(divremRAbs), b.Local(divremRAbs+1)
	baLo, baHi := b.Local(divremBAbs), b.Local(divremBAbs+1)
	mLo, mHi := b.Local(divremMLo), b.Local(divremMLo+1)
	look := func(op compiler.Opcode, tuple []expr) {
		b.Looking(machine.LookupAlu, machine.ScopeRegional,
			append([]expr{cu(uint32(op))}, tuple...), g)
	}
	look(compiler.MUL, []expr{mLo, mHi, qaLo, qaHi, caLo, caHi})
	look(compiler.MULHU, []expr{zero(), zero(), qaLo, qaHi, caLo, caHi})
	look(compiler.ADD, []expr{baLo, baHi, mLo, mHi, raLo, raHi})
	look(compiler.SLTU, []expr{one(), zero(), raLo, raHi, caLo, caHi})
	look(compiler.SLTU, []expr{zero(), zero(), baLo, baHi, mLo, mHi})

	opcode := addN(
		mul(isDiv, cu(uint32(compiler.DIV))),
		mul(isDivu, cu(uint32(compiler.DIVU))),
		mul(isRem, cu(uint32(compiler.REM))),
		mul(isRemu, cu(uint32(compiler.REMU))))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(opcode, aLo, aHi, bLo, bHi, cLo, cHi), isReal)
}
