package machine

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestProofCborRoundTrip(t *testing.T) {
	m, pk := testMachine(t, balancedChips()...)
	record := testRecord(0, 0x1000, 0, true)
	m.CompleteRecord(record)

	proof, err := m.ProveChunk(pk, record)
	require.NoError(t, err)

	data, err := cbor.Marshal(proof)
	require.NoError(t, err)

	var back BaseProof
	require.NoError(t, cbor.Unmarshal(data, &back))
	require.Empty(t, cmp.Diff(proof, &back))

	// The decoded proof still verifies.
	require.NoError(t, m.VerifyChunk(pk.Vk, &back))
}

func TestVerifyingKeyCborRoundTrip(t *testing.T) {
	_, pk := testMachine(t, balancedChips()...)
	vk := pk.Vk

	data, err := cbor.Marshal(vk)
	require.NoError(t, err)

	var back BaseVerifyingKey
	require.NoError(t, cbor.Unmarshal(data, &back))
	require.Empty(t, cmp.Diff(vk, &back))
}
