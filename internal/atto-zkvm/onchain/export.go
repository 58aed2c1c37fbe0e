package onchain

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog/log"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/proverchain"
)

func errPvCount(n int) error {
	return fmt.Errorf("onchain: %d public values, want %d", n, machine.NumMachinePvs)
}

// Artifact file names, fixed by the contract tooling.
const (
	ConstraintsFile = "constraints.json"
	WitnessFile     = "groth16_witness.json"
	ProofFile       = "proof.json"
	PvFile          = "pv_file"
)

type constraintsJSON struct {
	Curve          string `json:"curve"`
	NumConstraints int    `json:"num_constraints"`
	NumPublic      int    `json:"num_public"`
	NumSecret      int    `json:"num_secret"`
}

type witnessJSON struct {
	VkHash       string   `json:"vk_hash"`
	PvHash       string   `json:"pv_hash"`
	VkDigest     []string `json:"vk_digest"`
	PublicValues []string `json:"public_values"`
}

type proofJSON struct {
	VkDigest     []string `json:"vk_digest"`
	PvDigest     []string `json:"pv_digest"`
	PublicValues []string `json:"public_values"`
	Proof        string   `json:"proof"`
}

func hexLimbs(vals []field.Val) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprintf("%08x", field.ToUint32(v))
	}
	return out
}

// Export writes the four settlement artifacts for an embed proof. The
// circuit is compiled fresh so the constraint counts always describe the
// code that produced the witness.
func Export(ep *proverchain.EmbedProof, dir string) error {
	if len(ep.PublicValues) != machine.NumMachinePvs {
		return errPvCount(len(ep.PublicValues))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	assignment, err := Assignment(ep.VkDigest, ep.PublicValues)
	if err != nil {
		return err
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &VerifierCircuit{})
	if err != nil {
		return fmt.Errorf("onchain: compile verifier circuit: %w", err)
	}

	if err := writeJSON(dir, ConstraintsFile, constraintsJSON{
		Curve:          ecc.BN254.String(),
		NumConstraints: ccs.GetNbConstraints(),
		NumPublic:      ccs.GetNbPublicVariables(),
		NumSecret:      ccs.GetNbSecretVariables(),
	}); err != nil {
		return err
	}

	if err := writeJSON(dir, WitnessFile, witnessJSON{
		VkHash:       fmt.Sprint(assignment.VkHash),
		PvHash:       fmt.Sprint(assignment.PvHash),
		VkDigest:     hexLimbs(ep.VkDigest[:]),
		PublicValues: hexLimbs(ep.PublicValues),
	}); err != nil {
		return err
	}

	if err := writeJSON(dir, ProofFile, proofJSON{
		VkDigest:     hexLimbs(ep.VkDigest[:]),
		PvDigest:     hexLimbs(ep.PvDigest[:]),
		PublicValues: hexLimbs(ep.PublicValues),
		Proof:        hex.EncodeToString(ep.ProofBytes),
	}); err != nil {
		return err
	}

	raw := make([]byte, 0, 4*len(ep.PublicValues))
	for _, v := range ep.PublicValues {
		raw = binary.BigEndian.AppendUint32(raw, field.ToUint32(v))
	}
	if err := os.WriteFile(filepath.Join(dir, PvFile), []byte(hex.EncodeToString(raw)), 0o644); err != nil {
		return err
	}

	log.Debug().Str("dir", dir).Int("constraints", ccs.GetNbConstraints()).Msg("onchain artifacts written")
	return nil
}

func writeJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), append(data, '\n'), 0o644)
}
