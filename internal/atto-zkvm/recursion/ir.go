// Package recursion implements the proof-of-proof layer: a straight-line
// circuit IR over the field, a runtime that executes IR programs into
// records, the chip set that proves such runs, and a circuit builder that
// re-verifies base proofs inside the IR.
//
// A program's shape is fixed at build time: operand addresses, constants,
// and read multiplicities all live in preprocessed columns, so a record
// only commits the values that flowed through each operation. Memory is
// write-once; every cell holds one extension element and base values
// occupy the low limb with the high limbs pinned to zero by the lookup
// tuples that consume them.
package recursion

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Felt addresses a cell holding a base-field value.
type Felt uint32

// ExtVar addresses a cell holding an extension-field value.
type ExtVar uint32

type opKind uint8

const (
	opWitness opKind = iota + 1
	opBaseAlu
	opExtAlu
	opSelect
	opPoseidon2
	opExpBits
	opCommit
	opHint
)

// AluOp selects the arithmetic flavor of an ALU instruction.
type AluOp uint8

const (
	AluAdd AluOp = iota
	AluSub
	AluMul
	AluDiv
)

// instr is one IR operation. Which fields are meaningful depends on kind.
type instr struct {
	kind opKind
	alu  AluOp

	out  uint32
	out2 uint32
	a    uint32
	b    uint32
	bit  uint32

	ins  []uint32
	outs []uint32

	hint func([]field.Ext) []field.Ext
}

// ConstCell is one constant-table entry: the cell it defines and how many
// times the program reads it.
type ConstCell struct {
	Addr     uint32
	Value    field.Ext
	ReadMult uint32
}

// AssertCell pins an existing cell to a constant by consuming it once
// through the constant table.
type AssertCell struct {
	Addr  uint32
	Value field.Ext
}

// Program is a finalized circuit: the instruction stream plus the derived
// constant table and per-cell read counts. Programs are immutable after
// Finalize and feed both preprocessed trace generation and the runtime.
type Program struct {
	instrs    []instr
	consts    []ConstCell
	asserts   []AssertCell
	readCount []uint32
	numCells  uint32
}

// NumCells returns the number of allocated memory cells.
func (p *Program) NumCells() uint32 { return p.numCells }

// Builder accumulates IR operations. Cell addresses start at one so the
// zero rows of padded preprocessed traces never alias a live cell.
type Builder struct {
	nextAddr uint32
	instrs   []instr
	consts   []ConstCell
	constIdx map[field.Ext]uint32
	asserts  []AssertCell
}

// NewBuilder returns an empty circuit builder.
func NewBuilder() *Builder {
	return &Builder{nextAddr: 1, constIdx: map[field.Ext]uint32{}}
}

func (b *Builder) alloc() uint32 {
	addr := b.nextAddr
	b.nextAddr++
	return addr
}

// ConstE returns a cell holding the given extension constant. Equal
// constants share one cell.
func (b *Builder) ConstE(v field.Ext) ExtVar {
	if addr, ok := b.constIdx[v]; ok {
		return ExtVar(addr)
	}
	addr := b.alloc()
	b.constIdx[v] = addr
	b.consts = append(b.consts, ConstCell{Addr: addr, Value: v})
	return ExtVar(addr)
}

// ConstF returns a cell holding the given base constant.
func (b *Builder) ConstF(v field.Val) Felt {
	return Felt(b.ConstE(field.ExtFromBase(v)))
}

// Zero and One are the constants every circuit ends up needing.
func (b *Builder) Zero() Felt { return b.ConstF(field.Zero()) }
func (b *Builder) One() Felt  { return b.ConstF(field.One()) }

// WitnessE reads the next extension element from the witness stream.
func (b *Builder) WitnessE() ExtVar {
	out := b.alloc()
	b.instrs = append(b.instrs, instr{kind: opWitness, out: out})
	return ExtVar(out)
}

// WitnessF reads the next witness element as a base value. The high limbs
// are forced to zero by whichever base-shaped lookup consumes the cell.
func (b *Builder) WitnessF() Felt {
	return Felt(b.WitnessE())
}

// FeltToExt reinterprets a base cell as an extension cell. The embedding is
// the identity on the low limb.
func (b *Builder) FeltToExt(x Felt) ExtVar { return ExtVar(x) }

// LimbsToExt recombines four base cells into one extension cell via the
// limb basis constants.
func (b *Builder) LimbsToExt(l [field.ExtDegree]Felt) ExtVar {
	out := b.FeltToExt(l[0])
	for j := 1; j < field.ExtDegree; j++ {
		var limbs [field.ExtDegree]field.Val
		limbs[j] = field.One()
		basis := b.ConstE(field.ExtFromLimbs(limbs))
		out = b.AddE(out, b.MulE(b.FeltToExt(l[j]), basis))
	}
	return out
}

func (b *Builder) baseAlu(op AluOp, x, y Felt) Felt {
	out := b.alloc()
	b.instrs = append(b.instrs, instr{kind: opBaseAlu, alu: op, out: out, a: uint32(x), b: uint32(y)})
	return Felt(out)
}

// AddF, SubF, MulF, DivF emit base-field arithmetic.
func (b *Builder) AddF(x, y Felt) Felt { return b.baseAlu(AluAdd, x, y) }
func (b *Builder) SubF(x, y Felt) Felt { return b.baseAlu(AluSub, x, y) }
func (b *Builder) MulF(x, y Felt) Felt { return b.baseAlu(AluMul, x, y) }
func (b *Builder) DivF(x, y Felt) Felt { return b.baseAlu(AluDiv, x, y) }

func (b *Builder) extAlu(op AluOp, x, y ExtVar) ExtVar {
	out := b.alloc()
	b.instrs = append(b.instrs, instr{kind: opExtAlu, alu: op, out: out, a: uint32(x), b: uint32(y)})
	return ExtVar(out)
}

// AddE, SubE, MulE, DivE emit extension-field arithmetic.
func (b *Builder) AddE(x, y ExtVar) ExtVar { return b.extAlu(AluAdd, x, y) }
func (b *Builder) SubE(x, y ExtVar) ExtVar { return b.extAlu(AluSub, x, y) }
func (b *Builder) MulE(x, y ExtVar) ExtVar { return b.extAlu(AluMul, x, y) }
func (b *Builder) DivE(x, y ExtVar) ExtVar { return b.extAlu(AluDiv, x, y) }

// SelectE returns (x, y) when bit is zero and (y, x) when bit is one. The
// bit must already be constrained boolean.
func (b *Builder) SelectE(bit Felt, x, y ExtVar) (ExtVar, ExtVar) {
	out1 := b.alloc()
	out2 := b.alloc()
	b.instrs = append(b.instrs, instr{
		kind: opSelect, bit: uint32(bit),
		a: uint32(x), b: uint32(y), out: out1, out2: out2,
	})
	return ExtVar(out1), ExtVar(out2)
}

// SelectF is SelectE on base cells.
func (b *Builder) SelectF(bit Felt, x, y Felt) (Felt, Felt) {
	o1, o2 := b.SelectE(bit, ExtVar(x), ExtVar(y))
	return Felt(o1), Felt(o2)
}

// Poseidon2 permutes sixteen base cells.
func (b *Builder) Poseidon2(in [16]Felt) [16]Felt {
	ins := make([]uint32, 16)
	outs := make([]uint32, 16)
	var handles [16]Felt
	for i := range in {
		ins[i] = uint32(in[i])
	}
	for i := range outs {
		outs[i] = b.alloc()
		handles[i] = Felt(outs[i])
	}
	b.instrs = append(b.instrs, instr{kind: opPoseidon2, ins: ins, outs: outs})
	return handles
}

// ExpBits returns base raised to the little-endian bit vector. Each bit is
// constrained boolean by the chip.
func (b *Builder) ExpBits(base Felt, bits []Felt) Felt {
	ins := make([]uint32, len(bits))
	for i, bit := range bits {
		ins[i] = uint32(bit)
	}
	out := b.alloc()
	b.instrs = append(b.instrs, instr{kind: opExpBits, a: uint32(base), ins: ins, out: out})
	return Felt(out)
}

// Hint allocates cells whose values the runtime derives from the dep
// cells instead of the external witness stream. To the chips a hint
// output is an ordinary witness row, so callers must constrain it like
// any other prover input.
func (b *Builder) Hint(deps []ExtVar, n int, fn func([]field.Ext) []field.Ext) []ExtVar {
	ins := make([]uint32, len(deps))
	for i, d := range deps {
		ins[i] = uint32(d)
	}
	outs := make([]uint32, n)
	handles := make([]ExtVar, n)
	for i := range outs {
		outs[i] = b.alloc()
		handles[i] = ExtVar(outs[i])
	}
	b.instrs = append(b.instrs, instr{kind: opHint, ins: ins, outs: outs, hint: fn})
	return handles
}

// CommitPublicValues pins the machine public-value vector to the given
// cells. Exactly one commit per program.
func (b *Builder) CommitPublicValues(vals []Felt) {
	ins := make([]uint32, len(vals))
	for i, v := range vals {
		ins[i] = uint32(v)
	}
	b.instrs = append(b.instrs, instr{kind: opCommit, ins: ins})
}

// AssertConstE consumes x through the constant table, which forces its
// writer to have produced exactly v.
func (b *Builder) AssertConstE(x ExtVar, v field.Ext) {
	b.asserts = append(b.asserts, AssertCell{Addr: uint32(x), Value: v})
}

// AssertConstF pins a base cell to a constant.
func (b *Builder) AssertConstF(x Felt, v field.Val) {
	b.AssertConstE(ExtVar(x), field.ExtFromBase(v))
}

// AssertZeroF requires x == 0.
func (b *Builder) AssertZeroF(x Felt) { b.AssertConstF(x, field.Zero()) }

// AssertEqF requires x == y.
func (b *Builder) AssertEqF(x, y Felt) {
	b.AssertZeroF(b.SubF(x, y))
}

// AssertEqE requires x == y.
func (b *Builder) AssertEqE(x, y ExtVar) {
	b.AssertConstE(b.SubE(x, y), field.ExtZero())
}

// Finalize counts per-cell reads and freezes the program.
func (b *Builder) Finalize() (*Program, error) {
	reads := make([]uint32, b.nextAddr)
	read := func(addr uint32) {
		reads[addr]++
	}
	commits := 0
	for _, in := range b.instrs {
		switch in.kind {
		case opWitness, opHint:
		case opBaseAlu, opExtAlu:
			read(in.a)
			read(in.b)
		case opSelect:
			read(in.bit)
			read(in.a)
			read(in.b)
		case opPoseidon2, opExpBits, opCommit:
			for _, a := range in.ins {
				read(a)
			}
			if in.kind == opExpBits {
				read(in.a)
			}
			if in.kind == opCommit {
				commits++
			}
		}
	}
	for _, as := range b.asserts {
		read(as.Addr)
	}
	if commits != 1 {
		return nil, fmt.Errorf("recursion: program has %d public-value commits, want 1", commits)
	}
	consts := make([]ConstCell, len(b.consts))
	for i, c := range b.consts {
		c.ReadMult = reads[c.Addr]
		consts[i] = c
	}
	return &Program{
		instrs:    b.instrs,
		consts:    consts,
		asserts:   b.asserts,
		readCount: reads,
		numCells:  b.nextAddr,
	}, nil
}
