//go:build atto_babybear

package field

import (
	"github.com/consensys/gnark-crypto/field/babybear"
	"github.com/consensys/gnark-crypto/field/babybear/extensions"
)

// Val is a native field element (BabyBear, p = 2^31 - 2^27 + 1).
type Val = babybear.Element

// Ext is a challenge-field element, the degree-4 extension of Val.
type Ext = extensions.E4

// Modulus and two-adic structure of the active field.
const (
	ModulusUint32 uint32 = 0x78000001 // 2^31 - 2^27 + 1
	TwoAdicity           = 27
	GeneratorU32  uint32 = 31
)

// DefaultSpec describes the BabyBear instantiation of the machine.
func DefaultSpec() Spec {
	return Spec{
		Name:            "babybear",
		Modulus:         ModulusUint32,
		TwoAdicity:      TwoAdicity,
		Generator:       GeneratorU32,
		LogBlowup:       1,
		NumQueries:      42,
		GrindingBits:    8,
		Poseidon2Width:  16,
		Poseidon2Rate:   8,
		ExternalRounds:  8,
		InternalRounds:  13,
		SboxDegree:      7,
		SepticCoeffs:    [7]uint32{5, 2, 0, 0, 0, 0, 0}, // z^7 = 2z + 5
		CurveA:          2,
		CurveBCoeff:     26, // b = 26 * z^5
		CurveBPow:       5,
		MaxLogChunkSize: 22,
	}
}
