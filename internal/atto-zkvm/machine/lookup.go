// Package machine contains the STARK machinery shared by every proof stage:
// symbolic constraint building, the lookup/permutation argument, trace
// commitment, and the base prover and verifier.
package machine

// LookupType namespaces the multiset a lookup tuple belongs to. Tuples only
// ever balance against tuples of the same type.
type LookupType uint8

const (
	LookupByte LookupType = iota + 1
	LookupAlu
	LookupProgram
	LookupInstruction
	LookupMemory
	LookupSyscall
	LookupGlobal
)

func (t LookupType) String() string {
	switch t {
	case LookupByte:
		return "byte"
	case LookupAlu:
		return "alu"
	case LookupProgram:
		return "program"
	case LookupInstruction:
		return "instruction"
	case LookupMemory:
		return "memory"
	case LookupSyscall:
		return "syscall"
	case LookupGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// LookupScope says where a lookup must balance: within one chunk's proof
// (Regional) or across the whole ensemble via the septic accumulator
// (Global).
type LookupScope uint8

const (
	ScopeRegional LookupScope = iota + 1
	ScopeGlobal
)

func (s LookupScope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "regional"
}

// Lookup is one symbolic interaction emitted by a chip's Eval: Values and
// Mult are expressions over the chip's columns. A "looking" lookup consumes
// (negative sign), a "looked" one produces.
type Lookup struct {
	Type     LookupType
	Scope    LookupScope
	Values   []Expr
	Mult     Expr
	IsLooked bool
}
