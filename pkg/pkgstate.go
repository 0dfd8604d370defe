package bump

import (
	"crypto/rand"
	"encoding/hex"
)

// Draft lifecycle: Built -> Broadcast -> {StillPending, Superseded,
// Confirmed}. Superseded is reachable only for replacement siblings.
type DraftState string

const (
	DraftBuilt        DraftState = "built"
	DraftBroadcast    DraftState = "broadcast"
	DraftStillPending DraftState = "pending"
	DraftSuperseded   DraftState = "superseded"
	DraftConfirmed    DraftState = "confirmed"
)

// PackageOutcome classifies one externally-observed snapshot of the pool
// and chain. PartiallyConfirmed is an invalid terminal state: topology
// makes it structurally impossible, so observing it means the node
// disagrees with the dependency contract.
type PackageOutcome string

const (
	OutcomeUnknown            PackageOutcome = "unknown"
	OutcomeBothPending        PackageOutcome = "both-pending"
	OutcomeSupersededEvicted  PackageOutcome = "superseded-evicted"
	OutcomePartiallyConfirmed PackageOutcome = "partially-confirmed"
	OutcomeBothConfirmed      PackageOutcome = "both-confirmed"
)

type Topology int

const (
	TopologyReplacement Topology = iota
	TopologyParentChild
	TopologyAnchorSpend
)

func (t Topology) String() string {
	switch t {
	case TopologyReplacement:
		return "replacement"
	case TopologyParentChild:
		return "parent-child"
	case TopologyAnchorSpend:
		return "anchor-spend"
	default:
		return "unknown"
	}
}

func TopologyFromName(name string) (Topology, error) {
	switch name {
	case "replacement":
		return TopologyReplacement, nil
	case "parent-child":
		return TopologyParentChild, nil
	case "anchor-spend":
		return TopologyAnchorSpend, nil
	default:
		return 0, NewErr(BadRequest, "unknown topology %q", name)
	}
}

// DraftStatus is the tracked, mutable side of a draft: its lifecycle state
// and the txid the node assigned at broadcast (signing legacy inputs
// changes the txid, so the draft's own TxID is not what the pool knows).
type DraftStatus struct {
	State         DraftState
	BroadcastTxID string
	ConfirmHeight int64
}

// PoolSnapshot is the tracker's only view of the outside world: membership
// sets for the node's unconfirmed pool and for observed block inclusion.
type PoolSnapshot struct {
	Mempool   map[string]bool
	Confirmed map[string]bool
	// Heights holds the inclusion height for txids in Confirmed, when the
	// observer knows it. Missing entries leave ConfirmHeight at zero.
	Heights map[string]int64
}

// Package is one or two linked drafts plus their declared dependency.
// Drafts must reach the node in slice order for the dependent topologies;
// the ordering is recorded here but enforcing it is the caller's job.
type Package struct {
	ID       string
	Topology Topology
	Anchor   AnchorValue
	Drafts   []*Draft
	Status   []DraftStatus
	Outcome  PackageOutcome
}

func newPackage(t Topology, drafts []*Draft, anchor AnchorValue) *Package {
	status := make([]DraftStatus, len(drafts))
	for i := range status {
		status[i] = DraftStatus{State: DraftBuilt}
	}
	return &Package{
		ID:       newPackageID(),
		Topology: t,
		Anchor:   anchor,
		Drafts:   drafts,
		Status:   status,
		Outcome:  OutcomeUnknown,
	}
}

func newPackageID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// BroadcastOrder returns draft indices in required broadcast order. For
// dependent topologies the second draft is not valid at the node until the
// first is known there; for replacement the order is original then
// replacement.
func (p *Package) BroadcastOrder() []int {
	order := make([]int, len(p.Drafts))
	for i := range order {
		order[i] = i
	}
	return order
}

// NextToBroadcast returns the index of the next draft awaiting broadcast,
// or -1 when all drafts have been handed to the node.
func (p *Package) NextToBroadcast() int {
	for _, i := range p.BroadcastOrder() {
		if p.Status[i].State == DraftBuilt {
			return i
		}
	}
	return -1
}

// MarkBroadcast records that draft i reached the node under txid, and
// freezes the draft.
func (p *Package) MarkBroadcast(i int, txid string) error {
	if i < 0 || i >= len(p.Status) {
		return NewErr(BadRequest, "no draft %d in package %s", i, p.ID)
	}
	if p.Status[i].State != DraftBuilt {
		return NewErr(InvalidTopology,
			"draft %d in package %s already broadcast (%s)", i, p.ID, p.Status[i].State)
	}
	p.Drafts[i].Freeze()
	p.Status[i].State = DraftBroadcast
	p.Status[i].BroadcastTxID = txid
	return nil
}

// RebindDependent repoints the dependent draft's first input at the signed
// parent's txid. No-op when the txid already matches.
func (p *Package) RebindDependent(parentTxID string) error {
	if p.Topology == TopologyReplacement {
		return NewErr(InvalidTopology, "replacement packages have no dependent draft")
	}
	dep := p.Drafts[1]
	if cur, _ := dep.InputRef(0); cur == parentTxID {
		return nil
	}
	return dep.SetInputTxID(0, parentTxID)
}

// AnchorOutPoint returns the anchor output of an anchor-spend package,
// addressed by the txid the node knows (the broadcast txid once the main
// draft is out, the draft txid before that).
func (p *Package) AnchorOutPoint() (SpendableOutput, bool) {
	if p.Topology != TopologyAnchorSpend {
		return SpendableOutput{}, false
	}
	main := p.Drafts[0]
	txid := p.Status[0].BroadcastTxID
	if txid == "" {
		txid = main.TxID()
	}
	return SpendableOutput{
		TxID:  txid,
		VOut:  uint32(main.NumOutputs() - 1),
		Value: p.Anchor.Satoshis(),
	}, true
}

// RevertConfirmationsAbove undoes confirmations recorded above height.
// Used when the observed chain reorganises below a confirming block: the
// draft is back in flight and the next snapshot decides where it landed.
func (p *Package) RevertConfirmationsAbove(height int64) (reverted bool) {
	for i := range p.Status {
		st := &p.Status[i]
		if st.State == DraftConfirmed && st.ConfirmHeight > height {
			st.State = DraftBroadcast
			st.ConfirmHeight = 0
			reverted = true
		}
	}
	if reverted {
		p.Outcome = OutcomeUnknown
	}
	return reverted
}

// Observe folds one snapshot into the per-draft states and reclassifies
// the package outcome. It never repairs an inconsistency: an impossible
// state is surfaced as InvariantViolation and left as observed.
func (p *Package) Observe(snap PoolSnapshot) (PackageOutcome, error) {
	for i := range p.Status {
		st := &p.Status[i]
		// Terminal and not-yet-broadcast states don't move on snapshots.
		if st.State == DraftBuilt || st.State == DraftConfirmed || st.State == DraftSuperseded {
			continue
		}
		switch {
		case snap.Confirmed[st.BroadcastTxID]:
			st.State = DraftConfirmed
			st.ConfirmHeight = snap.Heights[st.BroadcastTxID]
		case snap.Mempool[st.BroadcastTxID]:
			st.State = DraftStillPending
		case st.State == DraftStillPending:
			// Previously observed in the pool, now absent from both sets:
			// the node dropped it (eviction, expiry, restart). Back to
			// Broadcast, so classification stops counting it as alive.
			st.State = DraftBroadcast
		}
	}

	if p.Topology == TopologyReplacement {
		p.markSuperseded(snap)
	}

	outcome, err := p.classify()
	p.Outcome = outcome
	return outcome, err
}

// markSuperseded detects eviction of a replacement sibling: a broadcast
// draft that has vanished from the pool while its conflicting sibling is
// alive, or whose sibling confirmed.
func (p *Package) markSuperseded(snap PoolSnapshot) {
	for i := range p.Status {
		st := &p.Status[i]
		if st.State != DraftBroadcast && st.State != DraftStillPending {
			continue
		}
		sib := &p.Status[1-i]
		sibAlive := sib.State == DraftConfirmed ||
			snap.Mempool[sib.BroadcastTxID] || snap.Confirmed[sib.BroadcastTxID]
		if sib.State == DraftConfirmed {
			st.State = DraftSuperseded
			continue
		}
		gone := !snap.Mempool[st.BroadcastTxID] && !snap.Confirmed[st.BroadcastTxID]
		if gone && sibAlive {
			st.State = DraftSuperseded
		}
	}
}

func (p *Package) classify() (PackageOutcome, error) {
	for _, st := range p.Status {
		if st.State == DraftBuilt {
			// Not all drafts are at the node yet; nothing to classify.
			return OutcomeUnknown, nil
		}
	}
	a, b := p.Status[0].State, p.Status[1].State

	if p.Topology == TopologyReplacement {
		switch {
		case a == DraftConfirmed && b == DraftConfirmed:
			// Conflicting drafts cannot both confirm.
			return OutcomePartiallyConfirmed, NewErr(InvariantViolation,
				"package %s: both conflicting replacement drafts confirmed", p.ID)
		case a == DraftSuperseded && (b == DraftConfirmed || b == DraftStillPending):
			return OutcomeSupersededEvicted, nil
		case b == DraftSuperseded && (a == DraftConfirmed || a == DraftStillPending):
			return OutcomeSupersededEvicted, nil
		case a == DraftStillPending && b == DraftStillPending:
			// Both conflicting txs visible at once; transiently possible
			// while the node processes the replacement.
			return OutcomeBothPending, nil
		default:
			return OutcomeUnknown, nil
		}
	}

	switch {
	case a == DraftConfirmed && b == DraftConfirmed:
		return OutcomeBothConfirmed, nil
	case a == DraftConfirmed || b == DraftConfirmed:
		return OutcomePartiallyConfirmed, NewErr(InvariantViolation,
			"package %s (%s): drafts confirmed separately", p.ID, p.Topology)
	case a == DraftStillPending && b == DraftStillPending:
		return OutcomeBothPending, nil
	default:
		// At least one draft is at the node but unobserved in pool and
		// chain alike; nothing can be concluded about the package.
		return OutcomeUnknown, nil
	}
}

// Succeeded reports whether the package achieved its goal. Never true
// while any draft is still only Built.
func (p *Package) Succeeded() bool {
	for _, st := range p.Status {
		if st.State == DraftBuilt {
			return false
		}
	}
	a, b := p.Status[0].State, p.Status[1].State
	if p.Topology == TopologyReplacement {
		// The higher-fee draft (index 1) must win while the original is
		// superseded.
		return a == DraftSuperseded &&
			(b == DraftConfirmed || b == DraftStillPending)
	}
	return (a == DraftConfirmed && b == DraftConfirmed) ||
		(a == DraftStillPending && b == DraftStillPending)
}
