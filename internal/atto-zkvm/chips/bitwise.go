package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	bitwiseIsAnd = iota
	bitwiseIsOr
	bitwiseIsXor
	bitwiseA // 4 result bytes
	bitwiseB = bitwiseA + 4
	bitwiseC = bitwiseB + 4

	bitwiseWidth = bitwiseC + 4
)

// BitwiseChip proves AND, OR and XOR byte by byte against the byte table.
// The operand words never appear as limbs; the lookup tuple recombines the
// byte columns directly.
type BitwiseChip struct{}

func NewBitwiseChip() *BitwiseChip { return &BitwiseChip{} }

func (c *BitwiseChip) Name() string           { return "Bitwise" }
func (c *BitwiseChip) PreprocessedWidth() int { return 0 }
func (c *BitwiseChip) MainWidth() int         { return bitwiseWidth }

func (c *BitwiseChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *BitwiseChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.BitwiseEvents) > 0
}
func (c *BitwiseChip) LocalOnly() bool                  { return true }
func (c *BitwiseChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func byteOpcodeOf(op compiler.Opcode) emulator.ByteOpcode {
	switch op {
	case compiler.AND:
		return emulator.ByteAnd
	case compiler.OR:
		return emulator.ByteOr
	default:
		return emulator.ByteXor
	}
}

func (c *BitwiseChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.BitwiseEvents), bitwiseWidth)
	for i, ev := range record.BitwiseEvents {
		row := m.Row(i)
		switch ev.Opcode {
		case compiler.AND:
			row[bitwiseIsAnd] = field.One()
		case compiler.OR:
			row[bitwiseIsOr] = field.One()
		default:
			row[bitwiseIsXor] = field.One()
		}
		ab, bb, cb := wordBytes(ev.A), wordBytes(ev.B), wordBytes(ev.C)
		for j := 0; j < 4; j++ {
			row[bitwiseA+j] = field.FromUint32(ab[j])
			row[bitwiseB+j] = field.FromUint32(bb[j])
			row[bitwiseC+j] = field.FromUint32(cb[j])
		}
	}
	return m
}

func (c *BitwiseChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, evs := range [][]emulator.AluEvent{record.BitwiseEvents, derived.BitwiseEvents} {
		for _, ev := range evs {
			op := byteOpcodeOf(ev.Opcode)
			ab, bb, cb := wordBytes(ev.A), wordBytes(ev.B), wordBytes(ev.C)
			for j := 0; j < 4; j++ {
				derived.AddByteLookup(emulator.ByteLookupEvent{
					Opcode: op, A1: uint16(ab[j]), B: uint8(bb[j]), C: uint8(cb[j]),
				})
			}
		}
	}
}

func (c *BitwiseChip) Eval(b *machine.Builder) {
	isAnd, isOr, isXor := b.Local(bitwiseIsAnd), b.Local(bitwiseIsOr), b.Local(bitwiseIsXor)
	isReal := addN(isAnd, isOr, isXor)
	b.AssertBool(isAnd)
	b.AssertBool(isOr)
	b.AssertBool(isXor)
	b.AssertBool(isReal)

	byteOp := add(
		mul(isOr, cu(uint32(emulator.ByteOr))),
		mul(isXor, cu(uint32(emulator.ByteXor))))
	for j := 0; j < 4; j++ {
		b.Looking(machine.LookupByte, machine.ScopeRegional,
			[]expr{byteOp, b.Local(bitwiseA + j), zero(), b.Local(bitwiseB + j), b.Local(bitwiseC + j)},
			isReal)
	}

	limb := func(base, half int) expr {
		return add(b.Local(base+2*half), mul(cu(256), b.Local(base+2*half+1)))
	}
	opcode := addN(
		mul(isAnd, cu(uint32(compiler.AND))),
		mul(isOr, cu(uint32(compiler.OR))),
		mul(isXor, cu(uint32(compiler.XOR))))
	b.Looked(machine.LookupAlu, machine.ScopeRegional,
		aluTuple(opcode,
			limb(bitwiseA, 0), limb(bitwiseA, 1),
			limb(bitwiseB, 0), limb(bitwiseB, 1),
			limb(bitwiseC, 0), limb(bitwiseC, 1)),
		isReal)
}
