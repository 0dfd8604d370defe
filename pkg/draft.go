package bump

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SpendableOutput identifies a confirmed UTXO selected by the caller to
// fund a package. It is read once at build time and never mutated.
type SpendableOutput struct {
	TxID  string         `json:"txid"`
	VOut  uint32         `json:"vout"`
	Value btcutil.Amount `json:"value"`
}

func (s SpendableOutput) String() string {
	return fmt.Sprintf("%s:%d", s.TxID, s.VOut)
}

// SameOutPoint reports whether two SpendableOutputs reference the same
// transaction output.
func (s SpendableOutput) SameOutPoint(o SpendableOutput) bool {
	return s.TxID == o.TxID && s.VOut == o.VOut
}

const (
	// TxVersionLegacy is used for replacement and parent/child drafts.
	TxVersionLegacy int32 = 2

	// TxVersionTruc (BIP-431 "v3") is required for transactions carrying
	// or spending an ephemeral anchor.
	TxVersionTruc int32 = 3
)

// Draft is an unsigned transaction under construction: version, locktime,
// ordered inputs with resolved sequence encodings, ordered outputs.
// Inputs carry empty unlock scripts; signing happens outside this engine.
// Once frozen (handed to the signer) a draft refuses further mutation.
type Draft struct {
	msg    *wire.MsgTx
	frozen bool
}

func NewDraft(version int32) *Draft {
	return &Draft{msg: wire.NewMsgTx(version)}
}

// DraftFromHex reconstructs a draft from its serialized form (e.g. when
// reloading a stored package). The caller decides whether to Freeze it,
// based on the draft's lifecycle state.
func DraftFromHex(h string) (*Draft, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, NewErr(BadRequest, "invalid draft hex: %v", err)
	}
	msg := &wire.MsgTx{}
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, NewErr(BadRequest, "cannot deserialize draft: %v", err)
	}
	return &Draft{msg: msg}, nil
}

// AddInput appends an input spending prev with the sequence encoding for
// the given intent.
func (d *Draft) AddInput(prev SpendableOutput, intent SequenceIntent) error {
	if d.frozen {
		return NewErr(InvalidTopology, "draft is frozen")
	}
	hash, err := chainhash.NewHashFromStr(prev.TxID)
	if err != nil {
		return NewErr(BadRequest, "invalid txid %q: %v", prev.TxID, err)
	}
	txIn := wire.NewTxIn(wire.NewOutPoint(hash, prev.VOut), nil, nil)
	txIn.Sequence = ResolveSequence(intent)
	d.msg.AddTxIn(txIn)
	return nil
}

// AddOutput appends an output paying value to pkScript. A zero value is
// legal only for the anchor output; builders enforce that, not this layer.
func (d *Draft) AddOutput(value btcutil.Amount, pkScript []byte) error {
	if d.frozen {
		return NewErr(InvalidTopology, "draft is frozen")
	}
	if value < 0 {
		return NewErr(BadRequest, "output value cannot be negative: %v", value)
	}
	d.msg.AddTxOut(wire.NewTxOut(int64(value), pkScript))
	return nil
}

// SetInputTxID redirects input i to spend the same output index of a
// different transaction. Used to rebind a dependent draft after its parent
// was signed: signing a legacy input changes the parent's txid, so the
// dependent must be repointed at the txid the node actually knows.
func (d *Draft) SetInputTxID(i int, txid string) error {
	if d.frozen {
		return NewErr(InvalidTopology, "draft is frozen")
	}
	if i < 0 || i >= len(d.msg.TxIn) {
		return NewErr(BadRequest, "no input %d in draft", i)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return NewErr(BadRequest, "invalid txid %q: %v", txid, err)
	}
	d.msg.TxIn[i].PreviousOutPoint.Hash = *hash
	return nil
}

// Freeze marks the draft immutable. Called when the draft is handed to the
// external signer; from then on it is opaque bytes.
func (d *Draft) Freeze() { d.frozen = true }

func (d *Draft) Frozen() bool { return d.frozen }

func (d *Draft) Version() int32 { return d.msg.Version }

func (d *Draft) NumInputs() int { return len(d.msg.TxIn) }

func (d *Draft) NumOutputs() int { return len(d.msg.TxOut) }

// InputRef returns the outpoint input i spends.
func (d *Draft) InputRef(i int) (txid string, vout uint32) {
	op := d.msg.TxIn[i].PreviousOutPoint
	return op.Hash.String(), op.Index
}

func (d *Draft) InputSequence(i int) uint32 {
	return d.msg.TxIn[i].Sequence
}

func (d *Draft) OutputValue(i int) btcutil.Amount {
	return btcutil.Amount(d.msg.TxOut[i].Value)
}

func (d *Draft) OutputScript(i int) []byte {
	return d.msg.TxOut[i].PkScript
}

// TxID is the draft's own transaction id (before signing; signing legacy
// inputs will change it).
func (d *Draft) TxID() string {
	return d.msg.TxHash().String()
}

// Hex serializes the draft in standard wire encoding.
func (d *Draft) Hex() (string, error) {
	var buf bytes.Buffer
	if err := d.msg.Serialize(&buf); err != nil {
		return "", NewErr(UnknownError, "serialize draft: %v", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
