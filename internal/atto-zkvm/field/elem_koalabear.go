//go:build !atto_babybear

package field

import (
	"github.com/consensys/gnark-crypto/field/koalabear"
	"github.com/consensys/gnark-crypto/field/koalabear/extensions"
)

// Val is a native field element. The default build proves over KoalaBear
// (p = 2^31 - 2^24 + 1); the atto_babybear tag retargets the whole VM to
// BabyBear without touching any other package.
type Val = koalabear.Element

// Ext is a challenge-field element, the degree-4 extension of Val.
type Ext = extensions.E4

// Modulus and two-adic structure of the active field.
const (
	ModulusUint32 uint32 = 0x7f000001 // 2^31 - 2^24 + 1
	TwoAdicity           = 24
	GeneratorU32  uint32 = 3
)

// DefaultSpec describes the KoalaBear instantiation of the machine.
func DefaultSpec() Spec {
	return Spec{
		Name:            "koalabear",
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
		SboxDegree:      3,
		SepticCoeffs:    [7]uint32{5, 2, 0, 0, 0, 0, 0}, // z^7 = 2z + 5
		CurveA:          2,
		CurveBCoeff:     26, // b = 26 * z^5
		CurveBPow:       5,
		MaxLogChunkSize: 22,
	}
}
