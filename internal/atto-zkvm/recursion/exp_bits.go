package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	ebIsReal = iota
	ebIsFirst
	ebIsLast
	ebAddrBase
	ebAddrBit
	ebAddrResult
	ebMult

	ebPreWidth
)

const (
	ebBit = iota
	ebSq
	ebSqSq
	ebAccIn
	ebAccOut

	ebMainWidth
)

// ExpBitsChip proves exponentiation by a little-endian bit vector, one row
// per bit: the square chain advances down the segment and the accumulator
// multiplies in the current square wherever the bit is set. The base is
// read on the first row of a segment (where the square chain starts at the
// base itself) and the result leaves on the last.
type ExpBitsChip struct{}

func NewExpBitsChip() *ExpBitsChip { return &ExpBitsChip{} }

func (c *ExpBitsChip) Name() string           { return "ExpBits" }
func (c *ExpBitsChip) PreprocessedWidth() int { return ebPreWidth }
func (c *ExpBitsChip) MainWidth() int         { return ebMainWidth }

func (c *ExpBitsChip) GeneratePreprocessed(program any) *matrix.Dense {
	p, ok := program.(*Program)
	if !ok {
		return nil
	}
	rows := 0
	for _, in := range p.instrs {
		if in.kind == opExpBits {
			rows += len(in.ins)
		}
	}
	if rows == 0 {
		return nil
	}
	m := paddedTrace(rows, ebPreWidth)
	r := 0
	for _, in := range p.instrs {
		if in.kind != opExpBits {
			continue
		}
		for j, bitAddr := range in.ins {
			row := m.Row(r)
			row[ebIsReal] = field.One()
			if j == 0 {
				row[ebIsFirst] = field.One()
			}
			row[ebAddrBase] = field.FromUint32(in.a)
			row[ebAddrBit] = field.FromUint32(bitAddr)
			if j == len(in.ins)-1 {
				row[ebIsLast] = field.One()
				row[ebAddrResult] = field.FromUint32(in.out)
				row[ebMult] = field.FromUint32(p.readCount[in.out])
			}
			r++
		}
	}
	return m
}

func (c *ExpBitsChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	rows := 0
	for _, ev := range record.CircuitExpBits {
		rows += len(ev.Bits)
	}
	m := paddedTrace(rows, ebMainWidth)
	r := 0
	for _, ev := range record.CircuitExpBits {
		acc := field.One()
		sq := ev.Base
		for _, bit := range ev.Bits {
			row := m.Row(r)
			row[ebBit] = field.FromUint32(bit)
			row[ebSq] = sq
			row[ebSqSq] = field.Mul(sq, sq)
			row[ebAccIn] = acc
			if bit == 1 {
				acc = field.Mul(acc, sq)
			}
			row[ebAccOut] = acc
			sq = field.Mul(sq, sq)
			r++
		}
	}
	return m
}

func (c *ExpBitsChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}
func (c *ExpBitsChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.CircuitExpBits) > 0
}
func (c *ExpBitsChip) LocalOnly() bool                  { return false }
func (c *ExpBitsChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *ExpBitsChip) Eval(b *machine.Builder) {
	bit := b.Local(ebBit)
	sq := b.Local(ebSq)
	sqSq := b.Local(ebSqSq)
	accIn := b.Local(ebAccIn)
	accOut := b.Local(ebAccOut)

	b.AssertBool(bit)
	b.AssertEq(sqSq, mul(sq, sq))
	b.AssertZero(sub(accOut, mul(accIn, add(mul(bit, sq), not(bit)))))
	b.AssertZero(mul(b.PreLocal(ebIsFirst), sub(accIn, one())))

	// The chains run until the segment's last row; padding rows chain zeros.
	cont := not(b.PreLocal(ebIsLast))
	b.AssertZeroTransition(mul(cont, sub(b.Next(ebAccIn), accOut)))
	b.AssertZeroTransition(mul(cont, sub(b.Next(ebSq), sqSq)))

	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		baseTuple(b.PreLocal(ebAddrBase), sq), b.PreLocal(ebIsFirst))
	b.Looking(machine.LookupMemory, machine.ScopeRegional,
		baseTuple(b.PreLocal(ebAddrBit), bit), b.PreLocal(ebIsReal))
	b.Looked(machine.LookupMemory, machine.ScopeRegional,
		baseTuple(b.PreLocal(ebAddrResult), accOut), b.PreLocal(ebMult))
}
