package bump

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Pay-to-Anchor (P2A): a fixed 4-byte anyone-can-spend output script,
// OP_1 <0x4e73>. Any party can spend an output carrying this script with
// no signature, which is what lets a third party attach fees to a stuck
// transaction.

const (
	// AnchorScriptLen is the exact wire length of the P2A script.
	AnchorScriptLen = 4

	// MinAnchorSatoshis is the smallest non-zero anchor value accepted as
	// standard by nodes that reject zero-value outputs.
	MinAnchorSatoshis = 240
)

var anchorTag = [2]byte{0x4e, 0x73}

// AnchorScript returns the P2A output script:
// [OP_1, OP_DATA_2, 0x4e, 0x73].
func AnchorScript() []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(anchorTag[:]).
		Script()
	if err != nil {
		// The builder only fails on oversized pushes; a 2-byte push
		// cannot trigger that.
		panic("bump: anchor script construction failed: " + err.Error())
	}
	return script
}

// IsAnchorScript reports whether script is exactly the P2A form.
func IsAnchorScript(script []byte) bool {
	return len(script) == AnchorScriptLen &&
		script[0] == txscript.OP_1 &&
		script[1] == txscript.OP_DATA_2 &&
		script[2] == anchorTag[0] &&
		script[3] == anchorTag[1]
}

// AnchorValue selects the value carried by the anchor output. Zero-value
// anchors require a node that relays ephemeral dust (TRUC); other nodes
// need the minimal non-zero value. Which one applies is a per-deployment
// decision, so it is configuration, never inferred.
type AnchorValue int

const (
	AnchorValueZero AnchorValue = iota
	AnchorValueMin
)

func (a AnchorValue) Satoshis() btcutil.Amount {
	if a == AnchorValueMin {
		return MinAnchorSatoshis
	}
	return 0
}

func (a AnchorValue) String() string {
	if a == AnchorValueMin {
		return "min"
	}
	return "zero"
}

// AnchorValueFromName parses the anchor_value config key.
func AnchorValueFromName(name string) (AnchorValue, error) {
	switch name {
	case "zero", "":
		return AnchorValueZero, nil
	case "min":
		return AnchorValueMin, nil
	default:
		return AnchorValueZero, NewErr(BadRequest,
			"anchor_value must be 'zero' or 'min', got %q", name)
	}
}
