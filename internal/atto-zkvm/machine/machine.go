package machine

import (
	"fmt"

	"github.com/attovm/atto-zkvm/internal/atto-zkvm/compiler"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/emulator"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/matrix"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/pcs"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/poseidon2"
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/septic"
)

// NumMachinePvs is the public-value width at the machine level: the
// emulator's public values followed by the septic global-sum point (x and y
// limbs). Chips index into this layout.
const NumMachinePvs = emulator.NumPublicValues + 2*septic.Degree

// PvGlobalSumOffset is where the global-sum point limbs begin.
const PvGlobalSumOffset = emulator.NumPublicValues

// BaseMachine instantiates the STARK for one proof stage: a chip set, a
// field spec, and the commitment scheme. Machines are immutable and safe to
// share.
type BaseMachine struct {
	spec   field.Spec
	scheme *pcs.Scheme
	chips  []*MetaChip
	sept   *septic.Params
}

// NewBaseMachine wraps the chip set with symbolically extracted metadata.
func NewBaseMachine(spec field.Spec, chips []ChipBehavior) *BaseMachine {
	metas := make([]*MetaChip, len(chips))
	seen := map[string]bool{}
	for i, c := range chips {
		if seen[c.Name()] {
			panic("machine: duplicate chip name " + c.Name())
		}
		seen[c.Name()] = true
		metas[i] = NewMetaChip(c)
	}
	return &BaseMachine{
		spec:   spec,
		scheme: pcs.NewScheme(spec),
		chips:  metas,
		sept:   septic.NewParams(spec),
	}
}

// Chips returns the machine's chip set in composition order.
func (m *BaseMachine) Chips() []*MetaChip { return m.chips }

// Scheme returns the underlying commitment scheme.
func (m *BaseMachine) Scheme() *pcs.Scheme { return m.scheme }

// Septic returns the global-accumulator curve parameters.
func (m *BaseMachine) Septic() *septic.Params { return m.sept }

// Spec returns the machine's field spec.
func (m *BaseMachine) Spec() field.Spec { return m.spec }

func (m *BaseMachine) chipByName(name string) (*MetaChip, bool) {
	for _, c := range m.chips {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// NewChallenger returns a transcript bound to this machine's permutation.
func (m *BaseMachine) NewChallenger() *poseidon2.Challenger {
	return poseidon2.NewChallenger(m.scheme.Permutation())
}

// Setup derives the proving/verifying key pair from the program's
// preprocessed traces. Chips without preprocessed columns contribute only
// their name ordering.
func (m *BaseMachine) Setup(program any) (*BaseProvingKey, error) {
	var mats []*matrix.Dense
	var infos []PreprocessedInfo
	byChip := map[string]*matrix.Dense{}
	for _, chip := range m.chips {
		pre := chip.GeneratePreprocessed(program)
		if pre == nil {
			continue
		}
		if pre.Width != chip.PreprocessedWidth() {
			return nil, fmt.Errorf("machine: chip %s preprocessed width %d, declared %d", chip.Name(), pre.Width, chip.PreprocessedWidth())
		}
		mats = append(mats, pre)
		infos = append(infos, PreprocessedInfo{
			ChipName:  chip.Name(),
			Width:     pre.Width,
			LogHeight: field.Log2Strict(pre.Height()),
		})
		byChip[chip.Name()] = pre
	}

	vk := &BaseVerifyingKey{InitialGlobalSum: m.sept.ZeroDigest().Point()}
	if p, ok := program.(*compiler.Program); ok {
		vk.StartPc = p.PCStart
	}
	pk := &BaseProvingKey{PreprocessedByChip: byChip, Vk: vk}
	if len(mats) > 0 {
		commit, data, err := m.scheme.Commit(mats)
		if err != nil {
			return nil, err
		}
		pk.PreprocessedCommit = commit
		pk.PreprocessedData = data
		vk.PreprocessedCommit = commit
		vk.Preprocessed = infos
	}
	return pk, nil
}

// GlobalEventPoint lifts one global lookup event onto the septic curve. The
// lookup kind occupies the high half of the top limb so distinct kinds can
// never collide through the lift offset.
func (m *BaseMachine) GlobalEventPoint(ev emulator.GlobalLookupEvent) septic.Point {
	var msg septic.Extension
	for i := 0; i < 6; i++ {
		msg[i] = field.FromUint32(ev.Values[i])
	}
	msg[6] = field.FromUint32(uint32(ev.Kind) << 16)
	// The lift picks opposite roots for the two directions, so a matching
	// send and receive cancel in the sum.
	pt, _ := m.sept.LiftX(msg, ev.IsReceive)
	return pt
}

// GlobalDigest folds a record's global events into one digest.
func (m *BaseMachine) GlobalDigest(events []emulator.GlobalLookupEvent) septic.Digest {
	points := make([]septic.Point, len(events))
	for i, ev := range events {
		points[i] = m.GlobalEventPoint(ev)
	}
	return m.sept.SumDigestsParallel(points)
}

// machinePvs flattens the record's public values plus the global digest
// point into the machine-level public value vector.
func machinePvs(pv *emulator.PublicValues, globalSum septic.Point) []field.Val {
	out := make([]field.Val, 0, NumMachinePvs)
	out = append(out, pv.ToVals()...)
	for i := 0; i < septic.Degree; i++ {
		out = append(out, globalSum.X[i])
	}
	for i := 0; i < septic.Degree; i++ {
		out = append(out, globalSum.Y[i])
	}
	return out
}

// DecodeGlobalSum pulls the septic point back out of a proof's public
// values.
func DecodeGlobalSum(pvs []field.Val) (septic.Point, error) {
	if len(pvs) != NumMachinePvs {
		return septic.Point{}, fmt.Errorf("machine: %d public values, want %d", len(pvs), NumMachinePvs)
	}
	var pt septic.Point
	for i := 0; i < septic.Degree; i++ {
		pt.X[i] = pvs[PvGlobalSumOffset+i]
		pt.Y[i] = pvs[PvGlobalSumOffset+septic.Degree+i]
	}
	return pt, nil
}
