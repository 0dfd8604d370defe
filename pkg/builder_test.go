package bump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

func testAddr(t *testing.T, fill byte) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{fill}, 20), &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("cannot make test address: %v", err)
	}
	return addr
}

func fundingOutput(value btcutil.Amount) SpendableOutput {
	return SpendableOutput{TxID: strings.Repeat("ab", 32), VOut: 0, Value: value}
}

func TestBuildReplacement(t *testing.T) {
	dest := testAddr(t, 0x01)
	p, err := BuildReplacement(fundingOutput(100_000_000), dest, 10_000, 1_000_000)
	if err != nil {
		t.Fatalf("BuildReplacement failed: %v", err)
	}
	if p.Topology != TopologyReplacement || len(p.Drafts) != 2 {
		t.Fatalf("wrong package shape: %v, %d drafts", p.Topology, len(p.Drafts))
	}

	wantSend := []btcutil.Amount{99_990_000, 99_000_000}
	for i, d := range p.Drafts {
		if d.Version() != TxVersionLegacy {
			t.Errorf("draft %d version = %d", i, d.Version())
		}
		if d.NumInputs() != 1 || d.NumOutputs() != 1 {
			t.Fatalf("draft %d shape: %d in, %d out", i, d.NumInputs(), d.NumOutputs())
		}
		if d.InputSequence(0) != SequenceReplaceable {
			t.Errorf("draft %d sequence = %08x, not replaceable", i, d.InputSequence(0))
		}
		if d.OutputValue(0) != wantSend[i] {
			t.Errorf("draft %d sends %v, want %v", i, d.OutputValue(0), wantSend[i])
		}
	}

	// both drafts must spend the identical outpoint (that is the conflict)
	t0, v0 := p.Drafts[0].InputRef(0)
	t1, v1 := p.Drafts[1].InputRef(0)
	if t0 != t1 || v0 != v1 {
		t.Errorf("drafts spend different outpoints: %s:%d vs %s:%d", t0, v0, t1, v1)
	}
	if p.Drafts[0].TxID() == p.Drafts[1].TxID() {
		t.Errorf("conflicting drafts have the same txid")
	}
}

func TestBuildReplacementFeeOrdering(t *testing.T) {
	dest := testAddr(t, 0x01)
	if _, err := BuildReplacement(fundingOutput(100_000_000), dest, 10_000, 10_000); !IsError(err, InvalidTopology) {
		t.Errorf("equal fees should be invalid-topology, got: %v", err)
	}
	if _, err := BuildReplacement(fundingOutput(100_000_000), dest, 20_000, 10_000); !IsError(err, InvalidTopology) {
		t.Errorf("lower replacement fee should be invalid-topology, got: %v", err)
	}
}

func TestBuildReplacementInsufficientFunds(t *testing.T) {
	dest := testAddr(t, 0x01)
	_, err := BuildReplacement(fundingOutput(10_000), dest, 5_000, 10_000)
	if !IsInsufficientFundsError(err) {
		t.Errorf("expected insufficient-funds when fee swallows the output, got: %v", err)
	}
}

func TestBuildParentChild(t *testing.T) {
	intermediate := testAddr(t, 0x02)
	final := testAddr(t, 0x03)
	p, err := BuildParentChild(fundingOutput(100_000_000), intermediate, final, 10_000, 1_000_000)
	if err != nil {
		t.Fatalf("BuildParentChild failed: %v", err)
	}
	if p.Topology != TopologyParentChild || len(p.Drafts) != 2 {
		t.Fatalf("wrong package shape: %v, %d drafts", p.Topology, len(p.Drafts))
	}
	parent, child := p.Drafts[0], p.Drafts[1]

	if parent.InputSequence(0) != SequenceFinal {
		t.Errorf("parent sequence = %08x, must be final", parent.InputSequence(0))
	}
	if parent.OutputValue(0) != 99_990_000 {
		t.Errorf("parent sends %v, want 99990000", parent.OutputValue(0))
	}

	// the child spends the parent's output 0
	ptxid, pvout := child.InputRef(0)
	if ptxid != parent.TxID() || pvout != 0 {
		t.Errorf("child spends %s:%d, want %s:0", ptxid, pvout, parent.TxID())
	}
	if child.InputSequence(0) != SequenceNonFinal {
		t.Errorf("child sequence = %08x, want non-final", child.InputSequence(0))
	}
	if child.OutputValue(0) != 98_990_000 {
		t.Errorf("child sends %v, want 98990000", child.OutputValue(0))
	}
}

func TestBuildAnchorSpend(t *testing.T) {
	dest := testAddr(t, 0x04)
	change := testAddr(t, 0x05)
	feeOut := SpendableOutput{TxID: strings.Repeat("cd", 32), VOut: 2, Value: 50_000_000}

	p, err := BuildAnchorSpend(fundingOutput(100_000_000), dest, AnchorValueZero,
		feeOut, change, 10_000, 5_000)
	if err != nil {
		t.Fatalf("BuildAnchorSpend failed: %v", err)
	}
	if p.Topology != TopologyAnchorSpend || len(p.Drafts) != 2 {
		t.Fatalf("wrong package shape: %v, %d drafts", p.Topology, len(p.Drafts))
	}
	main, spend := p.Drafts[0], p.Drafts[1]

	if main.Version() != TxVersionTruc || spend.Version() != TxVersionTruc {
		t.Errorf("anchor drafts must be TRUC: %d, %d", main.Version(), spend.Version())
	}

	// anchor is the last output of the main draft
	last := main.NumOutputs() - 1
	if !IsAnchorScript(main.OutputScript(last)) {
		t.Errorf("last output of main draft is not the anchor script: %x", main.OutputScript(last))
	}
	if main.OutputValue(last) != 0 {
		t.Errorf("zero-policy anchor carries value %v", main.OutputValue(last))
	}
	if main.OutputValue(0) != 99_990_000 {
		t.Errorf("main sends %v, want 99990000", main.OutputValue(0))
	}

	// the spend's first input is the anchor outpoint
	atxid, avout := spend.InputRef(0)
	if atxid != main.TxID() || avout != uint32(last) {
		t.Errorf("spend input 0 = %s:%d, want %s:%d", atxid, avout, main.TxID(), last)
	}
	ftxid, fvout := spend.InputRef(1)
	if ftxid != feeOut.TxID || fvout != feeOut.VOut {
		t.Errorf("spend input 1 = %s:%d, want %s", ftxid, fvout, feeOut)
	}
	for i := 0; i < spend.NumInputs(); i++ {
		if spend.InputSequence(i) != SequenceNonFinal {
			t.Errorf("spend input %d sequence = %08x", i, spend.InputSequence(i))
		}
	}

	// change clears the dust floor here, so it must be present
	if spend.NumOutputs() != 1 {
		t.Fatalf("spend has %d outputs, want 1 change output", spend.NumOutputs())
	}
	if spend.OutputValue(0) != 49_995_000 {
		t.Errorf("change = %v, want 49995000", spend.OutputValue(0))
	}
	changeScript, _ := txscript.PayToAddrScript(change)
	if !bytes.Equal(spend.OutputScript(0), changeScript) {
		t.Errorf("change does not pay the change address")
	}
}

func TestBuildAnchorSpendMinValue(t *testing.T) {
	dest := testAddr(t, 0x04)
	change := testAddr(t, 0x05)
	feeOut := SpendableOutput{TxID: strings.Repeat("cd", 32), VOut: 0, Value: 1_000_000}

	p, err := BuildAnchorSpend(fundingOutput(100_000_000), dest, AnchorValueMin,
		feeOut, change, 10_000, 5_000)
	if err != nil {
		t.Fatalf("BuildAnchorSpend failed: %v", err)
	}
	main := p.Drafts[0]
	last := main.NumOutputs() - 1
	if main.OutputValue(last) != MinAnchorSatoshis {
		t.Errorf("min-policy anchor carries %v, want %d", main.OutputValue(last), MinAnchorSatoshis)
	}
	// the anchor value comes out of the funding output too
	if main.OutputValue(0) != 100_000_000-10_000-MinAnchorSatoshis {
		t.Errorf("main sends %v", main.OutputValue(0))
	}
}

func TestBuildAnchorSpendDustChangeDropped(t *testing.T) {
	dest := testAddr(t, 0x04)
	change := testAddr(t, 0x05)
	// change would be 50_000 sats: below the dust floor, so dropped
	feeOut := SpendableOutput{TxID: strings.Repeat("cd", 32), VOut: 0, Value: 55_000}

	p, err := BuildAnchorSpend(fundingOutput(100_000_000), dest, AnchorValueZero,
		feeOut, change, 10_000, 5_000)
	if err != nil {
		t.Fatalf("BuildAnchorSpend failed: %v", err)
	}
	if p.Drafts[1].NumOutputs() != 0 {
		t.Errorf("dust change should be dropped, got %d outputs", p.Drafts[1].NumOutputs())
	}
}

func TestBuildAnchorSpendSameOutpointRejected(t *testing.T) {
	dest := testAddr(t, 0x04)
	change := testAddr(t, 0x05)
	out := fundingOutput(100_000_000)
	if _, err := BuildAnchorSpend(out, dest, AnchorValueZero, out, change, 10_000, 5_000); !IsError(err, InvalidTopology) {
		t.Errorf("same outpoint for funding and fee should be invalid-topology, got: %v", err)
	}
}

func TestBuildersAreDeterministic(t *testing.T) {
	dest := testAddr(t, 0x01)
	build := func() string {
		p, err := BuildReplacement(fundingOutput(100_000_000), dest, 10_000, 1_000_000)
		if err != nil {
			t.Fatalf("BuildReplacement failed: %v", err)
		}
		h0, _ := p.Drafts[0].Hex()
		h1, _ := p.Drafts[1].Hex()
		return h0 + "|" + h1
	}
	if build() != build() {
		t.Errorf("identical inputs produced different drafts")
	}
}
