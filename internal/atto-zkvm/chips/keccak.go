package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	keccakIsReal = iota
	keccakClk
	keccakPtrLo
	keccakPtrHi

	keccakWidth
)

// KeccakPermuteChip binds each keccak-f[1600] call to the syscall channel.
// The permutation itself runs in the emulator; the state words flow through
// the memory argument like any other syscall access.
type KeccakPermuteChip struct{}

func NewKeccakPermuteChip() *KeccakPermuteChip { return &KeccakPermuteChip{} }

func (c *KeccakPermuteChip) Name() string           { return "KeccakPermute" }
func (c *KeccakPermuteChip) PreprocessedWidth() int { return 0 }
func (c *KeccakPermuteChip) MainWidth() int         { return keccakWidth }

func (c *KeccakPermuteChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *KeccakPermuteChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.KeccakEvents) > 0
}
func (c *KeccakPermuteChip) LocalOnly() bool                  { return true }
func (c *KeccakPermuteChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *KeccakPermuteChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.KeccakEvents), keccakWidth)
	for i, ev := range record.KeccakEvents {
		row := m.Row(i)
		row[keccakIsReal] = field.One()
		row[keccakClk] = field.FromUint32(ev.Clk)
		setWord(row, keccakPtrLo, ev.StatePtr)
	}
	return m
}

func (c *KeccakPermuteChip) ExtraRecord(record, derived *emulator.EmulationRecord) {}

func (c *KeccakPermuteChip) Eval(b *machine.Builder) {
	isReal := b.Local(keccakIsReal)
	b.AssertBool(isReal)

	b.Looking(machine.LookupSyscall, machine.ScopeRegional, []expr{
		cu(syscallTagPrecompile), b.Local(keccakClk),
		cu(emulator.SyscallKeccakPermute & 0xFFFF), cu(emulator.SyscallKeccakPermute >> 16),
		b.Local(keccakPtrLo), b.Local(keccakPtrHi),
	}, isReal)
}
