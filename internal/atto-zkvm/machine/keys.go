package machine

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/pcs"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

// PreprocessedInfo records the shape of one chip's preprocessed trace
// inside the verifying key.
type PreprocessedInfo struct {
	ChipName  string `cbor:"1,keyasint"`
	Width     int    `cbor:"2,keyasint"`
	LogHeight int    `cbor:"3,keyasint"`
}

// BaseProvingKey is derived once per (config, program) pair.
type BaseProvingKey struct {
	PreprocessedCommit pcs.Commitment
	PreprocessedData   *pcs.ProverData
	// PreprocessedByChip maps chip name to its preprocessed trace; chips
	// without one are absent.
	PreprocessedByChip map[string]*matrix.Dense
	Vk                 *BaseVerifyingKey
}

// BaseVerifyingKey commits to the preprocessed traces and the initial
// memory image's global digest. Immutable after setup.
type BaseVerifyingKey struct {
	PreprocessedCommit pcs.Commitment     `cbor:"1,keyasint"`
	Preprocessed       []PreprocessedInfo `cbor:"2,keyasint"`
	InitialGlobalSum   septic.Point       `cbor:"3,keyasint"`
	// StartPc is the program entry point, checked against the first
	// chunk's public values.
	StartPc uint32 `cbor:"4,keyasint"`
}

// HasPreprocessed reports whether the named chip carries preprocessed
// columns, with its shape.
func (vk *BaseVerifyingKey) HasPreprocessed(chip string) (PreprocessedInfo, bool) {
	for _, info := range vk.Preprocessed {
		if info.ChipName == chip {
			return info, true
		}
	}
	return PreprocessedInfo{}, false
}

// Observe absorbs the verifying key into the transcript.
func (vk *BaseVerifyingKey) Observe(ch *poseidon2.Challenger) {
	ch.ObserveDigest(vk.PreprocessedCommit)
	ch.Observe(field.FromUint32(vk.StartPc))
	for _, info := range vk.Preprocessed {
		ch.Observe(field.FromUint64(uint64(info.LogHeight)))
	}
}

// ChipOpenedValues are one chip's polynomial openings at zeta (and g*zeta
// for chips with transition constraints).
type ChipOpenedValues struct {
	PreLocal  []field.Ext `cbor:"1,keyasint"`
	PreNext   []field.Ext `cbor:"2,keyasint"`
	MainLocal []field.Ext `cbor:"3,keyasint"`
	MainNext  []field.Ext `cbor:"4,keyasint"`
	PermLocal []field.Ext `cbor:"5,keyasint"`
	PermNext  []field.Ext `cbor:"6,keyasint"`
	// QuotientChunks holds the flattened (limb) openings of each chunk.
	QuotientChunks [][]field.Ext `cbor:"7,keyasint"`
	CumulativeSum  field.Ext     `cbor:"8,keyasint"`
	LogHeight      int           `cbor:"9,keyasint"`
}

// BaseProof is one chunk's STARK proof.
type BaseProof struct {
	MainCommit     pcs.Commitment     `cbor:"1,keyasint"`
	PermCommit     pcs.Commitment     `cbor:"2,keyasint"`
	QuotientCommit pcs.Commitment     `cbor:"3,keyasint"`
	// ChipOrdering maps chip name to index into OpenedValues; only chips
	// active for this chunk appear.
	ChipOrdering map[string]int     `cbor:"4,keyasint"`
	ChipNames    []string           `cbor:"5,keyasint"`
	OpenedValues []ChipOpenedValues `cbor:"6,keyasint"`
	OpeningProof pcs.Proof          `cbor:"7,keyasint"`
	PublicValues []field.Val        `cbor:"8,keyasint"`
	// GlobalSum is this chunk's septic accumulator digest over its global
	// lookup events.
	GlobalSum septic.Point `cbor:"9,keyasint"`
}

// CumulativeSum adds up the per-chip regional sums of the proof.
func (p *BaseProof) CumulativeSum() field.Ext {
	acc := field.ExtZero()
	for _, ov := range p.OpenedValues {
		acc = field.ExtAdd(acc, ov.CumulativeSum)
	}
	return acc
}
