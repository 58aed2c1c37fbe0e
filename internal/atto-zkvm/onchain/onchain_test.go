package onchain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/machine"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/proverchain"
)

func testEmbedProof(t *testing.T) *proverchain.EmbedProof {
	t.Helper()
	perm := poseidon2.New(field.DefaultSpec())
	pvs := make([]field.Val, machine.NumMachinePvs)
	for i := range pvs {
		pvs[i] = field.FromUint32(uint32(i*i + 1))
	}
	return &proverchain.EmbedProof{
		VkDigest:     perm.HashSlice([]field.Val{field.FromUint32(0x1234)}),
		PublicValues: pvs,
		PvDigest:     perm.HashSlice(pvs),
		ProofBytes:   []byte{0xca, 0xfe, 0xba, 0xbe},
	}
}

func TestVerifierCircuitSolves(t *testing.T) {
	ep := testEmbedProof(t)
	assignment, err := Assignment(ep.VkDigest, ep.PublicValues)
	require.NoError(t, err)
	require.NoError(t, test.IsSolved(&VerifierCircuit{}, assignment, ecc.BN254.ScalarField()))
}

func TestVerifierCircuitRejectsWrongHash(t *testing.T) {
	ep := testEmbedProof(t)
	assignment, err := Assignment(ep.VkDigest, ep.PublicValues)
	require.NoError(t, err)
	assignment.PvHash = "1"
	require.Error(t, test.IsSolved(&VerifierCircuit{}, assignment, ecc.BN254.ScalarField()))
}

func TestVerifierCircuitRejectsOversizedLimb(t *testing.T) {
	ep := testEmbedProof(t)
	assignment, err := Assignment(ep.VkDigest, ep.PublicValues)
	require.NoError(t, err)
	assignment.PublicValues[0] = uint64(1) << 40
	require.Error(t, test.IsSolved(&VerifierCircuit{}, assignment, ecc.BN254.ScalarField()))
}

func TestExportWritesArtifacts(t *testing.T) {
	ep := testEmbedProof(t)
	dir := t.TempDir()
	require.NoError(t, Export(ep, dir))

	for _, name := range []string{ConstraintsFile, WitnessFile, ProofFile, PvFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	var cons struct {
		Curve          string `json:"curve"`
		NumConstraints int    `json:"num_constraints"`
	}
	raw, err := os.ReadFile(filepath.Join(dir, ConstraintsFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &cons))
	require.Equal(t, "bn254", cons.Curve)
	require.Greater(t, cons.NumConstraints, 0)

	var w struct {
		VkHash       string   `json:"vk_hash"`
		PublicValues []string `json:"public_values"`
	}
	raw, err = os.ReadFile(filepath.Join(dir, WitnessFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &w))
	require.NotEmpty(t, w.VkHash)
	require.Len(t, w.PublicValues, machine.NumMachinePvs)

	pv, err := os.ReadFile(filepath.Join(dir, PvFile))
	require.NoError(t, err)
	require.Len(t, pv, 8*machine.NumMachinePvs)
}

func TestExportRejectsShortPvs(t *testing.T) {
	ep := testEmbedProof(t)
	ep.PublicValues = ep.PublicValues[:5]
	require.Error(t, Export(ep, t.TempDir()))
}
