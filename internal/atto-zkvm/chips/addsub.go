package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	addSubIsAdd = iota
	addSubIsSub
	addSubALo
	addSubAHi
	addSubBLo
	addSubBHi
	addSubCLo
	addSubCHi
	addSubCarryLo
	addSubCarryHi

	addSubWidth
)

// AddSubChip proves 32-bit wraparound addition and subtraction over 16-bit
// limbs. Subtraction reuses the adder's carry chain with the roles of a and
// b swapped: a = b - c holds exactly when b = a + c mod 2^32.
type AddSubChip struct{}

func NewAddSubChip() *AddSubChip { return &AddSubChip{} }

func (c *AddSubChip) Name() string           { return "AddSub" }
func (c *AddSubChip) PreprocessedWidth() int { return 0 }
func (c *AddSubChip) MainWidth() int         { return addSubWidth }

func (c *AddSubChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *AddSubChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.AddSubEvents) > 0
}
func (c *AddSubChip) LocalOnly() bool                  { return false }
func (c *AddSubChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *AddSubChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.AddSubEvents), addSubWidth)
	for i, ev := range record.AddSubEvents {
		row := m.Row(i)
		setWord(row, addSubALo, ev.A)
		setWord(row, addSubBLo, ev.B)
		setWord(row, addSubCLo, ev.C)
		// Carries from the addition-direction pair.
		x, y := ev.B, ev.C
		if ev.Opcode == compiler.SUB {
			row[addSubIsSub] = field.One()
			x, y = ev.A, ev.C
		} else {
			row[addSubIsAdd] = field.One()
		}
		carryLo := (uint64(x&0xFFFF) + uint64(y&0xFFFF)) >> 16
		row[addSubCarryLo] = field.FromUint64(carryLo)
		row[addSubCarryHi] = field.FromUint64((uint64(x>>16) + uint64(y>>16) + carryLo) >> 16)
	}
	return m
}

func (c *AddSubChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.AddSubEvents, derived.AddSubEvents} {
		for _, ev := range evs {
			res := ev.A
			if ev.Opcode == compiler.SUB {
				res = ev.B
			}
			derived.AddU16Range(uint16(res))
			derived.AddU16Range(uint16(res >> 16))
		}
	}
}

func (c *AddSubChip) Eval(b *machine.Builder) {
	isAdd, isSub := b.Local(addSubIsAdd), b.Local(addSubIsSub)
	isReal := add(isAdd, isSub)
	b.AssertBool(isAdd)
	b.AssertBool(isSub)
	b.AssertBool(isReal)

	aLo, aHi := b.Local(addSubALo), b.Local(addSubAHi)
	bLo, bHi := b.Local(addSubBLo), b.Local(addSubBHi)
	cLo, cHi := b.Local(addSubCLo), b.Local(addSubCHi)
	carryLo, carryHi := b.Local(addSubCarryLo), b.Local(addSubCarryHi)
	b.AssertBool(carryLo)
	b.AssertBool(carryHi)

	// The sum output is the freshly computed word: a for add, b for sub.
	sumLo := add(mul(isAdd, aLo), mul(isSub, bLo))
	sumHi := add(mul(isAdd, aHi), mul(isSub, bHi))
	inLo := add(mul(isAdd, bLo), mul(isSub, aLo))
	inHi := add(mul(isAdd, bHi), mul(isSub, aHi))
	b.AssertZero(sub(add(inLo, cLo), add(sumLo, mul(cu(1<<16), carryLo))))
	b.AssertZero(sub(addN(inHi, cHi, carryLo), add(sumHi, mul(cu(1<<16), carryHi))))

	lookingU16(b, sumLo, isReal)
	lookingU16(b, sumHi, isReal)

	opcode := mul(isSub, cu(uint32(compiler.SUB)))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(opcode, aLo, aHi, bLo, bHi, cLo, cHi), isReal)
}
