package recursion

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// CircuitChips returns the recursion machine's chip set.
func CircuitChips(spec field.Spec, perm *poseidon2.Permutation) []machine.ChipBehavior {
	return []machine.ChipBehavior{
		NewMemConstChip(),
		NewMemWitnessChip(),
		NewBaseAluChip(),
		NewExtAluChip(),
		NewSelectChip(),
		NewPoseidon2WideChip(spec, perm),
		NewExpBitsChip(),
		NewPublicValuesChip(),
	}
}

// NewRecursionMachine builds the STARK machine that proves recursion
// program runs. Setup must be called with the *Program the records were
// produced from; the program's shape is what ends up pinned in the
// verifying key.
func NewRecursionMachine(spec field.Spec) *machine.BaseMachine {
	perm := poseidon2.New(spec)
	return machine.NewBaseMachine(spec, CircuitChips(spec, perm))
}
