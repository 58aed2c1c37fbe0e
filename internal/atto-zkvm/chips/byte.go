package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

// byteTableRows enumerates every (b, c) byte pair.
const byteTableRows = 1 << 16

// Preprocessed columns: the operand pair and every derived operation value.
const (
	bytePreB = iota
	bytePreC
	bytePreAnd
	bytePreOr
	bytePreXor
	bytePreLtu
	bytePreMsb
	bytePreShr
	bytePreShrCarry

	bytePreWidth
)

// ByteChip proves every byte-level fact in the machine with one giant
// preprocessed truth table over all 2^16 operand pairs. The main trace is
// just one multiplicity column per operation; other chips consume rows
// through lookups.
//
// Range checks ride the same table: a U8 check targets the (b, 0) row, a
// U16 check addresses the table by row index b*256 + c.
type ByteChip struct{}

func NewByteChip() *ByteChip { return &ByteChip{} }

func (c *ByteChip) Name() string           { return "Byte" }
func (c *ByteChip) PreprocessedWidth() int { return bytePreWidth }
func (c *ByteChip) MainWidth() int         { return int(emulator.NumByteOpcodes) }

func (c *ByteChip) GeneratePreprocessed(program any) *matrix.Dense {
	m := matrix.NewDense(byteTableRows, bytePreWidth)
	for b := uint32(0); b < 256; b++ {
		for cc := uint32(0); cc < 256; cc++ {
			row := m.Row(int(b*256 + cc))
			row[bytePreB] = field.FromUint32(b)
			row[bytePreC] = field.FromUint32(cc)
			row[bytePreAnd] = field.FromUint32(b & cc)
			row[bytePreOr] = field.FromUint32(b | cc)
			row[bytePreXor] = field.FromUint32(b ^ cc)
			row[bytePreLtu] = boolVal(b < cc)
			row[bytePreMsb] = field.FromUint32(b >> 7)
			shift := cc & 7
			row[bytePreShr] = field.FromUint32(b >> shift)
			row[bytePreShrCarry] = field.FromUint32(b & ((1 << shift) - 1))
		}
	}
	return m
}

func (c *ByteChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := matrix.NewDense(byteTableRows, c.MainWidth())
	for ev, mult := range record.ByteLookups {
		row := int(ev.B)*256 + int(ev.C)
		if ev.Opcode == emulator.ByteU16Range {
			row = int(ev.A1)
		}
		mv := field.FromUint64(mult)
		cur := m.At(row, int(ev.Opcode))
		cur.Add(&cur, &mv)
		m.Set(row, int(ev.Opcode), cur)
	}
	return m
}

func (c *ByteChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *ByteChip) IsActive(record *emulator.EmulationRecord) bool        { return true }
func (c *ByteChip) LocalOnly() bool                                       { return true }
func (c *ByteChip) LookupScope() machine.LookupScope                      { return machine.ScopeRegional }

func (c *ByteChip) Eval(b *machine.Builder) {
	pb, pc := b.PreLocal(bytePreB), b.PreLocal(bytePreC)
	looked := func(op emulator.ByteOpcode, a1, a2 expr) {
		b.Looked(machine.LookupByte, machine.ScopeRegional,
			byteTuple(op, a1, a2, pb, pc), b.Local(int(op)))
	}
	looked(emulator.ByteAnd, b.PreLocal(bytePreAnd), zero())
	looked(emulator.ByteOr, b.PreLocal(bytePreOr), zero())
	looked(emulator.ByteXor, b.PreLocal(bytePreXor), zero())
	looked(emulator.ByteLtU, b.PreLocal(bytePreLtu), zero())
	looked(emulator.ByteMSB, b.PreLocal(bytePreMsb), zero())
	looked(emulator.ByteShrCarry, b.PreLocal(bytePreShr), b.PreLocal(bytePreShrCarry))
	looked(emulator.ByteU8Range, zero(), zero())

	// The U16 tuple addresses the table by row index instead of operands.
	b.Looked(machine.LookupByte, machine.ScopeRegional,
		byteTuple(emulator.ByteU16Range, add(mul(cu(256), pb), pc), zero(), zero(), zero()),
		b.Local(int(emulator.ByteU16Range)))
}
