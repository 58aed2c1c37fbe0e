package emulator

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Circuit events record one run of a recursion program: straight-line code
// over field elements whose operand addresses and multiplicities live in
// preprocessed columns, so a record only carries the values that flowed
// through each operation.

// CircuitWitnessEvent is one extension element read from the witness stream.
type CircuitWitnessEvent struct {
	Value field.Ext
}

// CircuitBaseAluEvent is one base-field arithmetic operation.
type CircuitBaseAluEvent struct {
	Out, In1, In2 field.Val
}

// CircuitExtAluEvent is one extension-field arithmetic operation.
type CircuitExtAluEvent struct {
	Out, In1, In2 field.Ext
}

// CircuitSelectEvent is one conditional swap: bit == 0 keeps the operand
// order, bit == 1 crosses it.
type CircuitSelectEvent struct {
	Bit        field.Val
	In1, In2   field.Ext
	Out1, Out2 field.Ext
}

// CircuitPoseidon2Event is one width-16 permutation over memory cells. The
// chip re-runs the rounds from the input lanes.
type CircuitPoseidon2Event struct {
	Input [16]field.Val
}

// CircuitExpBitsEvent is one exponentiation by a little-endian bit vector:
// base^(bits as integer), one trace row per bit.
type CircuitExpBitsEvent struct {
	Base field.Val
	Bits []uint32
}

// CircuitCommitEvent pins the machine public-value vector to values computed
// inside the circuit.
type CircuitCommitEvent struct {
	Values []field.Val
}
