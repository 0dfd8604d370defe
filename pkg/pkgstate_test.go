package bump

import (
	"strings"
	"testing"
)

func newReplacementPackage(t *testing.T) *Package {
	t.Helper()
	p, err := BuildReplacement(fundingOutput(100_000_000), testAddr(t, 0x01), 10_000, 1_000_000)
	if err != nil {
		t.Fatalf("BuildReplacement failed: %v", err)
	}
	return p
}

func newParentChildPackage(t *testing.T) *Package {
	t.Helper()
	p, err := BuildParentChild(fundingOutput(100_000_000), testAddr(t, 0x02), testAddr(t, 0x03), 10_000, 1_000_000)
	if err != nil {
		t.Fatalf("BuildParentChild failed: %v", err)
	}
	return p
}

func snapshot(mempool []string, confirmed map[string]int64) PoolSnapshot {
	snap := PoolSnapshot{
		Mempool:   map[string]bool{},
		Confirmed: map[string]bool{},
		Heights:   map[string]int64{},
	}
	for _, txid := range mempool {
		snap.Mempool[txid] = true
	}
	for txid, height := range confirmed {
		snap.Confirmed[txid] = true
		snap.Heights[txid] = height
	}
	return snap
}

func TestBroadcastOrdering(t *testing.T) {
	p := newParentChildPackage(t)
	if i := p.NextToBroadcast(); i != 0 {
		t.Fatalf("NextToBroadcast = %d, want 0", i)
	}
	if err := p.MarkBroadcast(0, "tx-parent"); err != nil {
		t.Fatalf("MarkBroadcast failed: %v", err)
	}
	if !p.Drafts[0].Frozen() {
		t.Errorf("broadcast draft must be frozen")
	}
	if err := p.MarkBroadcast(0, "tx-parent-again"); err == nil {
		t.Errorf("MarkBroadcast twice should fail")
	}
	if i := p.NextToBroadcast(); i != 1 {
		t.Fatalf("NextToBroadcast = %d, want 1", i)
	}
	if err := p.MarkBroadcast(1, "tx-child"); err != nil {
		t.Fatalf("MarkBroadcast failed: %v", err)
	}
	if i := p.NextToBroadcast(); i != -1 {
		t.Errorf("NextToBroadcast = %d after both broadcast", i)
	}
}

func TestSucceededNeverTrueWhileBuilt(t *testing.T) {
	p := newReplacementPackage(t)
	if p.Succeeded() {
		t.Errorf("fresh package reports success")
	}
	p.MarkBroadcast(0, "tx-a")
	if p.Succeeded() {
		t.Errorf("half-broadcast package reports success")
	}
	// Even a snapshot in which the original vanished proves nothing while
	// the replacement was never sent.
	outcome, err := p.Observe(snapshot(nil, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %v, want unknown while a draft is built", outcome)
	}
	if p.Succeeded() {
		t.Errorf("package with built draft reports success")
	}
}

func TestReplacementEvictionFlow(t *testing.T) {
	p := newReplacementPackage(t)
	p.MarkBroadcast(0, "tx-a")
	p.MarkBroadcast(1, "tx-b")

	// transiently both visible
	outcome, err := p.Observe(snapshot([]string{"tx-a", "tx-b"}, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeBothPending {
		t.Errorf("outcome = %v, want both-pending", outcome)
	}
	if p.Succeeded() {
		t.Errorf("success before eviction")
	}

	// the node evicted the original
	outcome, err = p.Observe(snapshot([]string{"tx-b"}, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeSupersededEvicted {
		t.Errorf("outcome = %v, want superseded-evicted", outcome)
	}
	if p.Status[0].State != DraftSuperseded {
		t.Errorf("original state = %v, want superseded", p.Status[0].State)
	}
	if !p.Succeeded() {
		t.Errorf("eviction of the original is the success condition")
	}

	// the replacement confirms
	outcome, err = p.Observe(snapshot(nil, map[string]int64{"tx-b": 120}))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeSupersededEvicted {
		t.Errorf("outcome = %v after confirm", outcome)
	}
	if p.Status[1].State != DraftConfirmed || p.Status[1].ConfirmHeight != 120 {
		t.Errorf("replacement status = %+v", p.Status[1])
	}
	if !p.Succeeded() {
		t.Errorf("confirmed replacement must still be success")
	}
}

func TestReplacementBothConfirmedIsInvariantViolation(t *testing.T) {
	p := newReplacementPackage(t)
	p.MarkBroadcast(0, "tx-a")
	p.MarkBroadcast(1, "tx-b")

	outcome, err := p.Observe(snapshot(nil, map[string]int64{"tx-a": 100, "tx-b": 100}))
	if !IsInvariantViolation(err) {
		t.Errorf("expected invariant-violation, got: %v", err)
	}
	if outcome != OutcomePartiallyConfirmed {
		t.Errorf("outcome = %v, want partially-confirmed", outcome)
	}
	if p.Succeeded() {
		t.Errorf("impossible state must not report success")
	}
}

func TestParentChildConfirmation(t *testing.T) {
	p := newParentChildPackage(t)
	p.MarkBroadcast(0, "tx-parent")
	p.MarkBroadcast(1, "tx-child")

	outcome, err := p.Observe(snapshot([]string{"tx-parent", "tx-child"}, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeBothPending {
		t.Errorf("outcome = %v, want both-pending", outcome)
	}
	if !p.Succeeded() {
		t.Errorf("both drafts pending together is the CPFP success condition")
	}

	outcome, err = p.Observe(snapshot(nil, map[string]int64{"tx-parent": 200, "tx-child": 200}))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeBothConfirmed {
		t.Errorf("outcome = %v, want both-confirmed", outcome)
	}
	if !p.Succeeded() {
		t.Errorf("both confirmed must be success")
	}
}

func TestParentChildEvictionIsNotSuccess(t *testing.T) {
	p := newParentChildPackage(t)
	p.MarkBroadcast(0, "tx-parent")
	p.MarkBroadcast(1, "tx-child")

	outcome, err := p.Observe(snapshot([]string{"tx-parent", "tx-child"}, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeBothPending || !p.Succeeded() {
		t.Fatalf("outcome = %v succeeded = %v, want pending success", outcome, p.Succeeded())
	}

	// The node dropped both transactions (eviction or restart). The
	// package is no longer pending and certainly not a success.
	outcome, err = p.Observe(snapshot(nil, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %v after both vanished, want unknown", outcome)
	}
	if p.Succeeded() {
		t.Errorf("evicted package reports success")
	}

	// A later snapshot that shows them again restores the pending view.
	outcome, err = p.Observe(snapshot([]string{"tx-parent", "tx-child"}, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeBothPending || !p.Succeeded() {
		t.Errorf("outcome = %v succeeded = %v after reappearance", outcome, p.Succeeded())
	}
}

func TestReplacementBothVanishedIsUnknown(t *testing.T) {
	p := newReplacementPackage(t)
	p.MarkBroadcast(0, "tx-a")
	p.MarkBroadcast(1, "tx-b")
	p.Observe(snapshot([]string{"tx-a", "tx-b"}, nil))

	// Both conflicting drafts gone: eviction of both is indistinguishable
	// from a lagging node, so no "superseded" claim can be made.
	outcome, err := p.Observe(snapshot(nil, nil))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %v with both drafts gone, want unknown", outcome)
	}
	if p.Succeeded() {
		t.Errorf("package with both drafts gone reports success")
	}
}

func TestParentChildSplitConfirmIsSurfaced(t *testing.T) {
	p := newParentChildPackage(t)
	p.MarkBroadcast(0, "tx-parent")
	p.MarkBroadcast(1, "tx-child")

	outcome, err := p.Observe(snapshot(nil, map[string]int64{"tx-parent": 200}))
	if !IsInvariantViolation(err) {
		t.Errorf("expected invariant-violation, got: %v", err)
	}
	if outcome != OutcomePartiallyConfirmed {
		t.Errorf("outcome = %v, want partially-confirmed", outcome)
	}
}

func TestRebindDependent(t *testing.T) {
	p := newParentChildPackage(t)
	signedParent := strings.Repeat("ef", 32)
	if err := p.RebindDependent(signedParent); err != nil {
		t.Fatalf("RebindDependent failed: %v", err)
	}
	txid, vout := p.Drafts[1].InputRef(0)
	if txid != signedParent || vout != 0 {
		t.Errorf("child spends %s:%d after rebind", txid, vout)
	}
	// rebinding to the same txid is a no-op
	if err := p.RebindDependent(signedParent); err != nil {
		t.Errorf("idempotent rebind failed: %v", err)
	}

	r := newReplacementPackage(t)
	if err := r.RebindDependent(signedParent); !IsError(err, InvalidTopology) {
		t.Errorf("replacement rebind should be invalid-topology, got: %v", err)
	}
}

func TestAnchorOutPoint(t *testing.T) {
	feeOut := SpendableOutput{TxID: strings.Repeat("cd", 32), VOut: 0, Value: 1_000_000}
	p, err := BuildAnchorSpend(fundingOutput(100_000_000), testAddr(t, 0x04), AnchorValueMin,
		feeOut, testAddr(t, 0x05), 10_000, 5_000)
	if err != nil {
		t.Fatalf("BuildAnchorSpend failed: %v", err)
	}

	ref, ok := p.AnchorOutPoint()
	if !ok {
		t.Fatalf("anchor package has no anchor outpoint")
	}
	if ref.TxID != p.Drafts[0].TxID() {
		t.Errorf("anchor ref uses %s before broadcast, want draft txid", ref.TxID)
	}
	if ref.VOut != uint32(p.Drafts[0].NumOutputs()-1) {
		t.Errorf("anchor vout = %d", ref.VOut)
	}
	if ref.Value != MinAnchorSatoshis {
		t.Errorf("anchor value = %v", ref.Value)
	}

	// once broadcast, the node's txid takes over
	signed := strings.Repeat("12", 32)
	p.MarkBroadcast(0, signed)
	ref, _ = p.AnchorOutPoint()
	if ref.TxID != signed {
		t.Errorf("anchor ref uses %s after broadcast, want %s", ref.TxID, signed)
	}

	if _, ok := newReplacementPackage(t).AnchorOutPoint(); ok {
		t.Errorf("replacement package claims an anchor outpoint")
	}
}

func TestRevertConfirmationsAbove(t *testing.T) {
	p := newParentChildPackage(t)
	p.MarkBroadcast(0, "tx-parent")
	p.MarkBroadcast(1, "tx-child")
	p.Observe(snapshot(nil, map[string]int64{"tx-parent": 200, "tx-child": 201}))

	if !p.RevertConfirmationsAbove(200) {
		t.Fatalf("revert above 200 should touch the child")
	}
	if p.Status[0].State != DraftConfirmed {
		t.Errorf("parent at height 200 must stay confirmed")
	}
	if p.Status[1].State != DraftBroadcast || p.Status[1].ConfirmHeight != 0 {
		t.Errorf("child status after revert = %+v", p.Status[1])
	}
	if p.Outcome != OutcomeUnknown {
		t.Errorf("outcome after revert = %v, want unknown", p.Outcome)
	}
	if p.RevertConfirmationsAbove(200) {
		t.Errorf("second revert should be a no-op")
	}
}
