package pcs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
)

func testScheme() *Scheme { return NewScheme(field.DefaultSpec()) }

func randomMatrix(seed uint64, height, width int) *matrix.Dense {
	m := matrix.NewDense(height, width)
	for i := range m.Values {
		seed = seed*6364136223846793005 + 1442695040888963407
		m.Values[i] = field.FromUint64(seed >> 33)
	}
	return m
}

func TestMerkleOpenVerify(t *testing.T) {
	s := testScheme()
	mats := []*matrix.Dense{
		randomMatrix(1, 16, 3),
		randomMatrix(2, 4, 5),
		randomMatrix(3, 16, 2),
	}
	tree, err := newMerkleTree(s.perm, mats)
	require.NoError(t, err)

	dims := make([]MatDims, len(mats))
	for i, m := range mats {
		dims[i] = MatDims{Width: m.Width, Height: m.Height()}
	}

	for idx := 0; idx < 16; idx++ {
		rows, proof := tree.open(idx)
		require.NoError(t, verifyMerkle(s.perm, tree.root(), dims, idx, rows, proof))
		require.Equal(t, mats[0].Row(idx), rows[0])
		require.Equal(t, mats[1].Row(idx>>2), rows[1])
	}

	t.Run("wrong_index_rejected", func(t *testing.T) {
		rows, proof := tree.open(3)
		err := verifyMerkle(s.perm, tree.root(), dims, 5, rows, proof)
		require.Error(t, err)
	})

	t.Run("tampered_row_rejected", func(t *testing.T) {
		rows, proof := tree.open(3)
		rows[2][0] = field.Add(rows[2][0], field.One())
		err := verifyMerkle(s.perm, tree.root(), dims, 3, rows, proof)
		require.Error(t, err)
	})
}

func openVerifyRoundTrip(t *testing.T, mutate func(*Proof)) error {
	t.Helper()
	s := testScheme()

	matsA := []*matrix.Dense{randomMatrix(10, 32, 4), randomMatrix(11, 8, 6)}
	matsB := []*matrix.Dense{randomMatrix(12, 16, 3)}

	commitA, dataA, err := s.Commit(matsA)
	require.NoError(t, err)
	commitB, dataB, err := s.Commit(matsB)
	require.NoError(t, err)

	proverCh := poseidon2.NewChallenger(s.perm)
	proverCh.ObserveDigest(commitA)
	proverCh.ObserveDigest(commitB)
	zeta := proverCh.SampleExt()
	zetaNext := field.ExtMulBase(zeta, field.TwoAdicGenerator(5))

	rounds := []ProverRound{
		{Data: dataA, Points: [][]field.Ext{{zeta, zetaNext}, {zeta}}},
		{Data: dataB, Points: [][]field.Ext{{zeta}}},
	}
	values, proof, err := s.Open(rounds, proverCh)
	require.NoError(t, err)

	// Spot-check one claimed value against direct interpolation.
	col0 := matsA[0].Column(0)
	coeffs := field.InterpolateCoeffs(col0)
	require.True(t, field.ExtEqual(values[0][0][0][0], field.EvalCoeffsExt(coeffs, zeta)))

	if mutate != nil {
		mutate(&proof)
	}

	verifierCh := poseidon2.NewChallenger(s.perm)
	verifierCh.ObserveDigest(commitA)
	verifierCh.ObserveDigest(commitB)
	vZeta := verifierCh.SampleExt()
	require.True(t, field.ExtEqual(zeta, vZeta))

	vRounds := []VerifierRound{
		{
			Commit: commitA,
			Mats:   []MatDims{{Width: 4, Height: 32}, {Width: 6, Height: 8}},
			Points: [][]field.Ext{{vZeta, zetaNext}, {vZeta}},
			Values: values[0],
		},
		{
			Commit: commitB,
			Mats:   []MatDims{{Width: 3, Height: 16}},
			Points: [][]field.Ext{{vZeta}},
			Values: values[1],
		},
	}
	return s.Verify(vRounds, proof, verifierCh)
}

func TestOpenVerify(t *testing.T) {
	require.NoError(t, openVerifyRoundTrip(t, nil))
}

func TestTamperedProofRejected(t *testing.T) {
	t.Run("final_value", func(t *testing.T) {
		err := openVerifyRoundTrip(t, func(p *Proof) {
			p.Fri.FinalValue = field.ExtAdd(p.Fri.FinalValue, field.ExtOne())
		})
		require.Error(t, err)
	})
	t.Run("commit_phase_root", func(t *testing.T) {
		err := openVerifyRoundTrip(t, func(p *Proof) {
			p.Fri.CommitPhaseCommits[0][0] = field.Add(p.Fri.CommitPhaseCommits[0][0], field.One())
		})
		require.Error(t, err)
	})
	t.Run("opened_row", func(t *testing.T) {
		err := openVerifyRoundTrip(t, func(p *Proof) {
			p.QueryOpenings[0][0].Rows[0][0] = field.Add(p.QueryOpenings[0][0].Rows[0][0], field.One())
		})
		require.Error(t, err)
	})
	t.Run("pow_witness", func(t *testing.T) {
		err := openVerifyRoundTrip(t, func(p *Proof) {
			p.Fri.PowWitness = field.Add(p.Fri.PowWitness, field.One())
		})
		require.Error(t, err)
	})
}

func TestWrongValuesRejected(t *testing.T) {
	s := testScheme()
	mats := []*matrix.Dense{randomMatrix(20, 16, 2)}
	commit, data, err := s.Commit(mats)
	require.NoError(t, err)

	proverCh := poseidon2.NewChallenger(s.perm)
	proverCh.ObserveDigest(commit)
	zeta := proverCh.SampleExt()

	values, proof, err := s.Open([]ProverRound{{Data: data, Points: [][]field.Ext{{zeta}}}}, proverCh)
	require.NoError(t, err)

	bad := values[0]
	bad[0][0][0] = field.ExtAdd(bad[0][0][0], field.ExtOne())

	verifierCh := poseidon2.NewChallenger(s.perm)
	verifierCh.ObserveDigest(commit)
	vZeta := verifierCh.SampleExt()

	err = s.Verify([]VerifierRound{{
		Commit: commit,
		Mats:   []MatDims{{Width: 2, Height: 16}},
		Points: [][]field.Ext{{vZeta}},
		Values: bad,
	}}, proof, verifierCh)
	require.Error(t, err)
}
