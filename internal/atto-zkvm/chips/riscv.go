package chips

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

// RiscvChips returns the full chip set of the RISC-V machine. Order
// matters for record completion: chips that derive events for other chips
// (the CPU and the divider delegating ALU work, the memory chips emitting
// global interactions) run before their consumers.
func RiscvChips(spec field.Spec) []machine.ChipBehavior {
	sept := septic.NewParams(spec)
	perm := poseidon2.New(spec)
	return []machine.ChipBehavior{
		NewProgramChip(),
		NewCpuChip(),
		NewDivRemChip(),
		NewAddSubChip(),
		NewBitwiseChip(),
		NewMulChip(),
		NewLtChip(),
		NewShiftLeftChip(),
		NewShiftRightChip(),
		NewMemoryReadWriteChip(),
		NewMemoryLocalChip(),
		NewMemoryInitChip(),
		NewMemoryFinalizeChip(),
		NewSyscallCoreChip(),
		NewPoseidon2Chip(spec, perm),
		NewUint256MulChip(),
		NewSha256ExtendChip(),
		NewKeccakPermuteChip(),
		NewGlobalChip(sept),
		NewByteChip(),
	}
}

// NewRiscvMachine builds the proving machine over the full chip set.
func NewRiscvMachine(spec field.Spec) *machine.BaseMachine {
	return machine.NewBaseMachine(spec, RiscvChips(spec))
}
