// Package compiler holds the RISC-V program model consumed by the emulator
// and chips. ELF decoding is a front-end concern; programs arrive here
// already decoded, either from the loader or from the test assembler.
package compiler

import (
	"fmt"
	"sort"
)

// Opcode identifies one decoded RISC-V operation class.
type Opcode uint8

const (
	ADD Opcode = iota
	SUB
	XOR
	OR
	AND
	SLL
	SRL
	SRA
	SLT
	SLTU
	MUL
	MULH
	MULHU
	MULHSU
	DIV
	DIVU
	REM
	REMU
	LB
	LH
	LW
	LBU
	LHU
	SB
	SH
	SW
	BEQ
	BNE
	BLT
	BGE
	BLTU
	BGEU
	JAL
	JALR
	AUIPC
	ECALL
	EBREAK
	UNIMP

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	"add", "sub", "xor", "or", "and", "sll", "srl", "sra", "slt", "sltu",
	"mul", "mulh", "mulhu", "mulhsu", "div", "divu", "rem", "remu",
	"lb", "lh", "lw", "lbu", "lhu", "sb", "sh", "sw",
	"beq", "bne", "blt", "bge", "bltu", "bgeu",
	"jal", "jalr", "auipc", "ecall", "ebreak", "unimp",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// IsALU reports whether the opcode is handled by one of the ALU chips.
func (op Opcode) IsALU() bool { return op <= REMU }

// IsMemory reports whether the opcode loads or stores.
func (op Opcode) IsMemory() bool { return op >= LB && op <= SW }

// IsBranch reports whether the opcode is a conditional branch.
func (op Opcode) IsBranch() bool { return op >= BEQ && op <= BGEU }

// Instruction is one decoded operation. OpA is always a register index;
// OpB/OpC are register indices or immediates depending on the flags, the
// same flattened form the CPU chip consumes.
type Instruction struct {
	Opcode Opcode
	OpA    uint32
	OpB    uint32
	OpC    uint32
	ImmB   bool
	ImmC   bool
}

// NewALU builds a register-register ALU instruction.
func NewALU(op Opcode, rd, rs1, rs2 uint32) Instruction {
	return Instruction{Opcode: op, OpA: rd, OpB: rs1, OpC: rs2}
}

// NewALUImm builds a register-immediate ALU instruction.
func NewALUImm(op Opcode, rd, rs1, imm uint32) Instruction {
	return Instruction{Opcode: op, OpA: rd, OpB: rs1, OpC: imm, ImmC: true}
}

// Program is an immutable decoded program: instructions, the starting and
// base program counters, and the initial sparse memory image. Shared
// read-only across every emulation chunk.
type Program struct {
	Instructions []Instruction
	PCStart      uint32
	PCBase       uint32
	Image        map[uint32]uint32
}

// InstructionAt returns the instruction addressed by pc, or false when pc
// falls outside the program.
func (p *Program) InstructionAt(pc uint32) (Instruction, bool) {
	if pc < p.PCBase || (pc-p.PCBase)%4 != 0 {
		return Instruction{}, false
	}
	idx := (pc - p.PCBase) / 4
	if int(idx) >= len(p.Instructions) {
		return Instruction{}, false
	}
	return p.Instructions[idx], true
}

// SortedImage returns the initial memory image as address-sorted pairs, the
// order the memory-initialize chip commits to.
func (p *Program) SortedImage() (addrs []uint32, words []uint32) {
	addrs = make([]uint32, 0, len(p.Image))
	for a := range p.Image {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	words = make([]uint32, len(addrs))
	for i, a := range addrs {
		words[i] = p.Image[a]
	}
	return addrs, words
}
