package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
)

const (
	sysIsReal = iota
	sysClk
	sysCodeLo
	sysCodeHi
	sysArg1Lo
	sysArg1Hi
	sysArg2Lo
	sysArg2Hi
	sysIsPoseidon2
	sysIsSha
	sysIsKeccak
	sysIsUint256

	sysWidth
)

// SyscallCoreChip receives every ecall the CPU dispatched and forwards the
// precompile ones to their chips on the second channel tag. The precompile
// flags are pinned to the exact syscall code limbs, so a call can neither
// be dropped nor rerouted.
type SyscallCoreChip struct{}

func NewSyscallCoreChip() *SyscallCoreChip { return &SyscallCoreChip{} }

func (c *SyscallCoreChip) Name() string           { return "SyscallCore" }
func (c *SyscallCoreChip) PreprocessedWidth() int { return 0 }
func (c *SyscallCoreChip) MainWidth() int         { return sysWidth }

func (c *SyscallCoreChip) GeneratePreprocessed(program any) *matrix.Dense { return nil }
func (c *SyscallCoreChip) IsActive(record *emulator.EmulationRecord) bool {
	return len(record.SyscallEvents) > 0
}
func (c *SyscallCoreChip) LocalOnly() bool                  { return true }
func (c *SyscallCoreChip) LookupScope() machine.LookupScope { return machine.ScopeRegional }

func (c *SyscallCoreChip) GenerateMain(record *emulator.EmulationRecord) *matrix.Dense {
	m := newTrace(record, c.Name(), len(record.SyscallEvents), sysWidth)
	for i, ev := range record.SyscallEvents {
		row := m.Row(i)
		row[sysIsReal] = field.One()
		row[sysClk] = field.FromUint32(ev.Clk)
		setWord(row, sysCodeLo, ev.Code)
		setWord(row, sysArg1Lo, ev.Arg1)
		setWord(row, sysArg2Lo, ev.Arg2)
		switch ev.Code {
		case emulator.SyscallPoseidon2:
			row[sysIsPoseidon2] = field.One()
		case emulator.SyscallSha256Extend:
			row[sysIsSha] = field.One()
		case emulator.SyscallKeccakPermute:
			row[sysIsKeccak] = field.One()
		case emulator.SyscallUint256Mul:
			row[sysIsUint256] = field.One()
		}
	}
	return m
}

func (c *SyscallCoreChip) ExtraRecord(record, derived *emulator.EmulationRecord) {
	for _, ev := range record.SyscallEvents {
		derived.AddU16Range(uint16(ev.Arg1))
		derived.AddU16Range(uint16(ev.Arg1 >> 16))
		derived.AddU16Range(uint16(ev.Arg2))
		derived.AddU16Range(uint16(ev.Arg2 >> 16))
	}
}

func (c *SyscallCoreChip) Eval(b *machine.Builder) {
	isReal := b.Local(sysIsReal)
	b.AssertBool(isReal)

	codeLo, codeHi := b.Local(sysCodeLo), b.Local(sysCodeHi)
	flags := []struct {
		col  int
		code uint32
	}{
		{sysIsPoseidon2, emulator.SyscallPoseidon2},
		{sysIsSha, emulator.SyscallSha256Extend},
		{sysIsKeccak, emulator.SyscallKeccakPermute},
		{sysIsUint256, emulator.SyscallUint256Mul},
	}
	flagSum := zero()
	for _, f := range flags {
		fc := b.Local(f.col)
		b.AssertBool(fc)
		b.AssertZero(mul(fc, sub(codeLo, cu(f.code&0xFFFF))))
		b.AssertZero(mul(fc, sub(codeHi, cu(f.code>>16))))
		b.AssertZero(mul(fc, not(isReal)))
		flagSum = add(flagSum, fc)
	}

	lookingU16(b, b.Local(sysArg1Lo), isReal)
	lookingU16(b, b.Local(sysArg1Hi), isReal)
	lookingU16(b, b.Local(sysArg2Lo), isReal)
	lookingU16(b, b.Local(sysArg2Hi), isReal)

	b.Looked(machine.LookupSyscall, machine.ScopeRegional, []expr{
		cu(syscallTagCpu), b.Local(sysClk), codeLo, codeHi,
		b.Local(sysArg1Lo), b.Local(sysArg1Hi),
		b.Local(sysArg2Lo), b.Local(sysArg2Hi),
	}, isReal)

	b.Looking(machine.LookupSyscall, machine.ScopeRegional, []expr{
		cu(syscallTagPrecompile), b.Local(sysClk), codeLo, codeHi,
		b.Local(sysArg1Lo), b.Local(sysArg1Hi),
	}, flagSum)
}
