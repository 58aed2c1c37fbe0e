package poseidon2

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Round constants and the internal diagonal are expanded from a SHAKE128
// stream seeded with the field name, by rejection sampling below the
// modulus. The permutation shape (round schedule, linear layers, sbox
// degree) is what matters for the constraint system; the concrete constant
// values only need to be fixed and reproducible.
func deriveConstants(spec field.Spec) (external [][]field.Val, internal []field.Val, diag []field.Val) {
	h := sha3.NewShake128()
	_, _ = h.Write([]byte("atto-zkvm/poseidon2/" + spec.Name))

	next := func() field.Val {
		var buf [4]byte
		for {
			_, _ = h.Read(buf[:])
			v := binary.LittleEndian.Uint32(buf[:]) & 0x7fffffff
			if v < spec.Modulus {
				return field.FromUint32(v)
			}
		}
	}

	external = make([][]field.Val, spec.ExternalRounds)
	for r := range external {
		round := make([]field.Val, spec.Poseidon2Width)
		for i := range round {
			round[i] = next()
		}
		external[r] = round
	}
	internal = make([]field.Val, spec.InternalRounds)
	for r := range internal {
		internal[r] = next()
	}
	diag = make([]field.Val, spec.Poseidon2Width)
	for i := range diag {
		diag[i] = next()
	}
	return external, internal, diag
}
