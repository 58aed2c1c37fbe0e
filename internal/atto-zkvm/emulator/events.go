// Package emulator executes RISC-V programs in bounded chunks and records
// every observable micro-operation as typed events for the chips to absorb.
package emulator

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
)

// AluEvent records one arithmetic/logic operation: a = op(b, c).
type AluEvent struct {
	Clk    uint32
	Opcode compiler.Opcode
	A      uint32
	B      uint32
	C      uint32
}

// MemoryRecord is one access to a memory word: the new value and position
// plus the previous ones being displaced. Reads carry PrevValue == Value.
// (Chunk, Timestamp) strictly increases across accesses to one address.
type MemoryRecord struct {
	Addr          uint32
	Value         uint32
	Chunk         uint32
	Timestamp     uint32
	PrevValue     uint32
	PrevChunk     uint32
	PrevTimestamp uint32
	IsWrite       bool
}

// MemoryInitEvent seeds one address at the start of the whole run.
type MemoryInitEvent struct {
	Addr  uint32
	Value uint32
}

// MemoryFinalizeEvent retires one address at the end of the whole run.
type MemoryFinalizeEvent struct {
	Addr      uint32
	Value     uint32
	Chunk     uint32
	Timestamp uint32
}

// CpuEvent records one executed instruction.
type CpuEvent struct {
	Clk         uint32
	Pc          uint32
	NextPc      uint32
	Instruction compiler.Instruction
	A, B, C     uint32
	Mem         *MemoryRecord
	SyscallCode uint32
}

// ByteOpcode enumerates the byte-table operations.
type ByteOpcode uint8

const (
	ByteAnd ByteOpcode = iota
	ByteOr
	ByteXor
	ByteLtU
	ByteMSB
	ByteShrCarry
	ByteU8Range
	ByteU16Range

	NumByteOpcodes
)

// ByteLookupEvent is one (operation, operands) byte-table lookup. Events are
// deduplicated into multiplicities; the byte chip's main trace is just the
// multiplicity column over a preprocessed table of all operand pairs.
type ByteLookupEvent struct {
	Opcode ByteOpcode
	A1     uint16 // result (16-bit so U16Range fits)
	A2     uint8  // secondary result (shift carry)
	B      uint8
	C      uint8
}

// SyscallEvent records one ecall dispatch.
type SyscallEvent struct {
	Clk   uint32
	Chunk uint32
	Code  uint32
	Arg1  uint32
	Arg2  uint32
}

// Poseidon2Event is one permutation precompile call over the native width.
type Poseidon2Event struct {
	Clk      uint32
	InputPtr uint32
	Input    [16]uint32
	Output   [16]uint32
	InputMem [16]MemoryRecord
}

// Uint256MulEvent is one 256-bit modular multiplication precompile call.
// A zero modulus means reduction modulo 2^256.
type Uint256MulEvent struct {
	Clk     uint32
	XPtr    uint32
	YPtr    uint32
	X       [8]uint32
	Y       [8]uint32
	Modulus [8]uint32
	Result  [8]uint32
}

// Sha256ExtendEvent is one message-schedule extension precompile call.
type Sha256ExtendEvent struct {
	Clk  uint32
	WPtr uint32
	W    [64]uint32
}

// KeccakPermuteEvent is one keccak-f[1600] precompile call.
type KeccakPermuteEvent struct {
	Clk      uint32
	StatePtr uint32
	Pre      [25]uint64
	Post     [25]uint64
}

// LookupKind tags the global lookup namespaces carried through the septic
// accumulator.
type LookupKind uint32

const (
	KindMemory LookupKind = iota + 1
	KindProgram
	KindSyscall
)

// GlobalLookupEvent is one cross-chunk interaction: a send produces a tuple
// into the global multiset, a receive consumes one. The whole-run invariant
// is that sends and receives cancel exactly.
type GlobalLookupEvent struct {
	Kind      LookupKind
	Values    [6]uint32
	IsReceive bool
}
