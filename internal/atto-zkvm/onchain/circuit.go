// Package onchain re-expresses the final chain proof for settlement: a
// BN254 circuit binding the verifying-key and public-value digests to two
// field-sized public inputs, and an exporter writing the artifacts the
// contract tooling consumes.
package onchain

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	frmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

// feltBits bounds every witnessed limb; the native field fits in 31 bits.
const feltBits = 31

// VerifierCircuit compresses the chain's outer digests into two BN254
// public inputs. The verifying-key digest limbs and the public value
// stream are private witnesses, range-checked and bound to the public
// hashes with MiMC, so the on-chain verifier only handles two scalars.
type VerifierCircuit struct {
	VkHash frontend.Variable `gnark:",public"`
	PvHash frontend.Variable `gnark:",public"`

	VkDigest     [poseidon2.DigestWidth]frontend.Variable
	PublicValues [machine.NumMachinePvs]frontend.Variable
}

func (c *VerifierCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	for _, limb := range c.VkDigest {
		api.ToBinary(limb, feltBits)
		h.Write(limb)
	}
	api.AssertIsEqual(h.Sum(), c.VkHash)

	h.Reset()
	for _, v := range c.PublicValues {
		api.ToBinary(v, feltBits)
		h.Write(v)
	}
	api.AssertIsEqual(h.Sum(), c.PvHash)
	return nil
}

// hashLimbs is the native mirror of the in-circuit MiMC accumulation.
func hashLimbs(limbs []uint32) fr.Element {
	h := frmimc.NewMiMC()
	for _, limb := range limbs {
		var el fr.Element
		el.SetUint64(uint64(limb))
		b := el.Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// Assignment builds the witness for the exported digests.
func Assignment(vkDigest poseidon2.Digest, pvs []field.Val) (*VerifierCircuit, error) {
	c := &VerifierCircuit{}
	vkLimbs := make([]uint32, poseidon2.DigestWidth)
	for i, v := range vkDigest {
		vkLimbs[i] = field.ToUint32(v)
		c.VkDigest[i] = vkLimbs[i]
	}
	pvLimbs := make([]uint32, len(pvs))
	if len(pvs) != machine.NumMachinePvs {
		return nil, errPvCount(len(pvs))
	}
	for i, v := range pvs {
		pvLimbs[i] = field.ToUint32(v)
		c.PublicValues[i] = pvLimbs[i]
	}
	vkHash := hashLimbs(vkLimbs)
	pvHash := hashLimbs(pvLimbs)
	c.VkHash = vkHash.String()
	c.PvHash = pvHash.String()
	return c, nil
}
