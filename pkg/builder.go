package bump

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Package builders: each produces the one or two linked drafts for its
// topology, with sequence encodings, output amounts and (for P2A) the
// anchor script already set. Builders are pure over their arguments: the
// same inputs always yield byte-identical drafts, and no external state is
// consulted.

// DustFloor is the threshold below which an anchor-spend change output is
// dropped instead of created (0.001 BTC, matching the node's economics for
// small change).
const DustFloor btcutil.Amount = 100_000

// BuildReplacement produces two conflicting drafts spending the same
// output: the original with lowFee and its replacement with highFee. Both
// opt in to replacement on every input. Sharing the identical input
// reference is what makes them mutually exclusive at the node.
func BuildReplacement(out SpendableOutput, dest btcutil.Address, lowFee, highFee btcutil.Amount) (*Package, error) {
	if dest == nil {
		return nil, NewErr(InvalidTopology, "replacement requires a destination address")
	}
	if highFee <= lowFee {
		// A replacement paying no more than the original can never
		// supersede it, so the package would be dead on arrival.
		return nil, NewErr(InvalidTopology,
			"replacement fee %v must exceed original fee %v", highFee, lowFee)
	}
	pkScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, NewErr(BadRequest, "destination script: %v", err)
	}
	var drafts []*Draft
	for _, fee := range []btcutil.Amount{lowFee, highFee} {
		send, err := Split(out.Value, fee)
		if err != nil {
			return nil, err
		}
		d := NewDraft(TxVersionLegacy)
		if err := d.AddInput(out, SeqReplaceable); err != nil {
			return nil, err
		}
		if err := d.AddOutput(send, pkScript); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return newPackage(TopologyReplacement, drafts, AnchorValueZero), nil
}

// BuildParentChild produces a parent draft that cannot be replaced (final
// sequence) paying intermediate, and a child draft spending the parent's
// output 0 on to final. The child's fee is expected to exceed the parent's
// so the pair's package fee rate attracts miners; that is design intent,
// not a numeric precondition enforced here.
func BuildParentChild(out SpendableOutput, intermediate, final btcutil.Address, parentFee, childFee btcutil.Amount) (*Package, error) {
	if intermediate == nil || final == nil {
		return nil, NewErr(InvalidTopology, "parent/child requires intermediate and final addresses")
	}
	interScript, err := txscript.PayToAddrScript(intermediate)
	if err != nil {
		return nil, NewErr(BadRequest, "intermediate script: %v", err)
	}
	finalScript, err := txscript.PayToAddrScript(final)
	if err != nil {
		return nil, NewErr(BadRequest, "final script: %v", err)
	}

	parentSend, err := Split(out.Value, parentFee)
	if err != nil {
		return nil, err
	}
	parent := NewDraft(TxVersionLegacy)
	if err := parent.AddInput(out, SeqFinal); err != nil {
		return nil, err
	}
	if err := parent.AddOutput(parentSend, interScript); err != nil {
		return nil, err
	}

	childSend, err := Split(parentSend, childFee)
	if err != nil {
		return nil, err
	}
	child := NewDraft(TxVersionLegacy)
	// The child's sole input is the parent's output 0, addressed by
	// txid:index like any other outpoint (no in-memory coupling).
	parentOut := SpendableOutput{TxID: parent.TxID(), VOut: 0, Value: parentSend}
	if err := child.AddInput(parentOut, SeqNonFinalSpendable); err != nil {
		return nil, err
	}
	if err := child.AddOutput(childSend, finalScript); err != nil {
		return nil, err
	}

	return newPackage(TopologyParentChild, []*Draft{parent, child}, AnchorValueZero), nil
}

// BuildAnchorSpend produces a TRUC main draft whose last output is the
// 4-byte anchor, and a TRUC spend draft whose first input is that anchor
// and second input is a caller-supplied fee-paying output. The spend draft
// gets a change output only when the remainder clears DustFloor.
func BuildAnchorSpend(out SpendableOutput, dest btcutil.Address, anchor AnchorValue,
	feeOut SpendableOutput, changeDest btcutil.Address, mainFee, spendFee btcutil.Amount) (*Package, error) {

	if dest == nil || changeDest == nil {
		return nil, NewErr(InvalidTopology, "anchor spend requires destination and change addresses")
	}
	if out.SameOutPoint(feeOut) {
		return nil, NewErr(InvalidTopology,
			"fee output %s must differ from the funding output", feeOut)
	}
	destScript, err := txscript.PayToAddrScript(dest)
	if err != nil {
		return nil, NewErr(BadRequest, "destination script: %v", err)
	}
	changeScript, err := txscript.PayToAddrScript(changeDest)
	if err != nil {
		return nil, NewErr(BadRequest, "change script: %v", err)
	}

	deducted, err := SumAmounts(mainFee, anchor.Satoshis())
	if err != nil {
		return nil, err
	}
	send, err := Split(out.Value, deducted)
	if err != nil {
		return nil, err
	}
	main := NewDraft(TxVersionTruc)
	if err := main.AddInput(out, SeqFinal); err != nil {
		return nil, err
	}
	if err := main.AddOutput(send, destScript); err != nil {
		return nil, err
	}
	// The anchor is always the last output; its index is what third
	// parties need to construct their own spend.
	if err := main.AddOutput(anchor.Satoshis(), AnchorScript()); err != nil {
		return nil, err
	}
	anchorIndex := uint32(main.NumOutputs() - 1)

	change, err := Split(feeOut.Value, spendFee)
	if err != nil {
		return nil, err
	}
	spend := NewDraft(TxVersionTruc)
	anchorOut := SpendableOutput{TxID: main.TxID(), VOut: anchorIndex, Value: anchor.Satoshis()}
	if err := spend.AddInput(anchorOut, SeqNonFinalSpendable); err != nil {
		return nil, err
	}
	if err := spend.AddInput(feeOut, SeqNonFinalSpendable); err != nil {
		return nil, err
	}
	if change > DustFloor {
		if err := spend.AddOutput(change, changeScript); err != nil {
			return nil, err
		}
	}

	p := newPackage(TopologyAnchorSpend, []*Draft{main, spend}, anchor)
	return p, nil
}
