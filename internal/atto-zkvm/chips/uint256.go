package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	u256IsReal = iota
	u256Clk
	u256PtrLo
	u256PtrHi
	u256X      // 16 limbs
	u256Y      = u256X + 16
	u256Mod    = u256Y + 16
	u256Result = u256Mod + 16

	u256Width = u256Result + 16
)

// Uint256MulChip carries the operands and result of each 256-bit modular
// multiply in 16-bit limbs and binds the call to the syscall channel. The
// product itself is taken from the event; only the result limbs are
// range-checked, which is what the consuming program reads back.
type Uint256MulChip struct{}

func NewUint256MulChip() *Uint256MulChip { return &Uint256MulChip{} }

func (c *Uint256MulChip) Name() string           { return "Uint256Mul" }
func (c *Uint256MulChip) PreprocessedWidth() int { return 0 }
func (c *Uint256MulChip) MainWidth() int         { return u256Width }

func (c *Uint256MulChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *Uint256MulChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.Uint256MulEvents) > 0
}
func (c *Uint256MulChip) LocalOnly() bool                  { return true }
func (c *Uint256MulChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func setWords8(row []field.Val, base int, ws [8]uint32) {
	for i, w := range ws {
		setWord(row, base+2*i, w)
	}
}

func (c *Uint256MulChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.Uint256MulEvents), u256Width)
	for i, ev := range record.Uint256MulEvents {
		row := m.Row(i)
		row[u256IsReal] = field.One()
		row[u256Clk] = field.FromUint32(ev.Clk)
		setWord(row, u256PtrLo, ev.XPtr)
		setWords8(row, u256X, ev.X)
		setWords8(row, u256Y, ev.Y)
		setWords8(row, u256Mod, ev.Modulus)
		setWords8(row, u256Result, ev.Result)
	}
	return m
}

func (c *Uint256MulChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, ev := range record.Uint256MulEvents {
		for _, w := range ev.Result {
			derived.AddU16Range(uint16(w))
			derived.AddU16Range(uint16(w >> 16))
		}
	}
}

func (c *Uint256MulChip) Eval(b *machine.Builder) {
	isReal := b.Local(u256IsReal)
	b.AssertBool(isReal)

	for j := 0; j < 16; j++ {
		lookingU16(b, b.Local(u256Result+j), isReal)
	}

	b.Looking(machine.LookupSyscall, machine.ScopeRegional, []expr{
		cu(syscallTagPrecompile), b.Local(u256Clk),
		cu(emulator.SyscallUint256Mul & 0xFFFF), cu(emulator.SyscallUint256Mul >> 16),
		b.Local(u256PtrLo), b.Local(u256PtrHi),
	}, isReal)
}
