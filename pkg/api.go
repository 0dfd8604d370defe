package bump

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
)

// API implements the fee-bump operations exposed by the web layer:
// building a package, broadcasting its drafts in dependency order, and
// reporting tracked status. All builds persist before any broadcast so a
// crash never loses a draft the node may already know about.
type API struct {
	Store Store
	L1    L1
	bus   MessageBus
	cfg   Config
}

func NewAPI(store Store, l1 L1, bus MessageBus, cfg Config) API {
	return API{store, l1, bus, cfg}
}

// OutPointRef optionally pins an operation to a specific wallet output.
// When nil, the API picks the largest spendable confirmed output.
type OutPointRef struct {
	TxID string `json:"txid"`
	VOut uint32 `json:"vout"`
}

type ReplacementArgs struct {
	Funding *OutPointRef
	Dest    string // empty means a fresh wallet address
	LowFee  btcutil.Amount
	HighFee btcutil.Amount
}

type ParentChildArgs struct {
	Funding      *OutPointRef
	Intermediate string
	Final        string
	ParentFee    btcutil.Amount
	ChildFee     btcutil.Amount
}

type AnchorSpendArgs struct {
	Funding    *OutPointRef
	FeeFunding *OutPointRef
	Dest       string
	Change     string
	MainFee    btcutil.Amount
	SpendFee   btcutil.Amount
}

// PackageSummary is the external view of a tracked package.
type PackageSummary struct {
	ID        string         `json:"id"`
	Topology  string         `json:"topology"`
	Anchor    string         `json:"anchor_value"`
	Outcome   string         `json:"outcome"`
	Succeeded bool           `json:"succeeded"`
	Drafts    []DraftSummary `json:"drafts"`
}

type DraftSummary struct {
	TxID          string `json:"txid"`
	BroadcastTxID string `json:"broadcast_txid,omitempty"`
	State         string `json:"state"`
	Version       int32  `json:"version"`
	ConfirmHeight int64  `json:"confirm_height,omitempty"`
	Hex           string `json:"hex"`
}

func (a API) BuildReplacement(args ReplacementArgs) (PackageSummary, error) {
	dest, err := a.resolveAddress(args.Dest)
	if err != nil {
		return PackageSummary{}, err
	}
	out, err := a.resolveFunding(args.Funding, args.HighFee, nil)
	if err != nil {
		return PackageSummary{}, err
	}
	p, err := BuildReplacement(out, dest, args.LowFee, args.HighFee)
	if err != nil {
		return PackageSummary{}, err
	}
	return a.launch(p)
}

func (a API) BuildParentChild(args ParentChildArgs) (PackageSummary, error) {
	intermediate, err := a.resolveAddress(args.Intermediate)
	if err != nil {
		return PackageSummary{}, err
	}
	final, err := a.resolveAddress(args.Final)
	if err != nil {
		return PackageSummary{}, err
	}
	need, err := SumAmounts(args.ParentFee, args.ChildFee)
	if err != nil {
		return PackageSummary{}, err
	}
	out, err := a.resolveFunding(args.Funding, need, nil)
	if err != nil {
		return PackageSummary{}, err
	}
	if args.ChildFee <= args.ParentFee {
		// Still valid, but the child then pays for less than its share.
		a.bus.Send(SYS_MSG, fmt.Sprintf("BuildParentChild: child fee %s does not exceed parent fee %s", args.ChildFee, args.ParentFee))
	}
	p, err := BuildParentChild(out, intermediate, final, args.ParentFee, args.ChildFee)
	if err != nil {
		return PackageSummary{}, err
	}
	return a.launch(p)
}

func (a API) BuildAnchorSpend(args AnchorSpendArgs) (PackageSummary, error) {
	dest, err := a.resolveAddress(args.Dest)
	if err != nil {
		return PackageSummary{}, err
	}
	change, err := a.resolveAddress(args.Change)
	if err != nil {
		return PackageSummary{}, err
	}
	anchor, err := AnchorValueFromName(a.cfg.BumpKit.AnchorValue)
	if err != nil {
		return PackageSummary{}, err
	}
	out, err := a.resolveFunding(args.Funding, args.MainFee, nil)
	if err != nil {
		return PackageSummary{}, err
	}
	feeOut, err := a.resolveFunding(args.FeeFunding, args.SpendFee, &out)
	if err != nil {
		return PackageSummary{}, err
	}
	p, err := BuildAnchorSpend(out, dest, anchor, feeOut, change, args.MainFee, args.SpendFee)
	if err != nil {
		return PackageSummary{}, err
	}
	return a.launch(p)
}

// launch persists a freshly built package and broadcasts its first draft.
// The dependent draft (or the replacement) stays built until the caller
// asks to advance.
func (a API) launch(p *Package) (PackageSummary, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return PackageSummary{}, err
	}
	defer tx.Rollback()
	if err := tx.CreatePackage(p); err != nil {
		return PackageSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return PackageSummary{}, err
	}
	a.bus.Send(PKG_BUILT, map[string]string{"id": p.ID, "topology": p.Topology.String()})

	return a.broadcastNext(p)
}

// AdvancePackage broadcasts the package's next pending draft: the
// replacement, or the dependent second transaction. Dependent drafts are
// rebound to the broadcast txid of the signed first draft, since signing
// legacy inputs changes the txid the node knows the parent by.
func (a API) AdvancePackage(id string) (PackageSummary, error) {
	p, err := a.Store.GetPackage(id)
	if err != nil {
		return PackageSummary{}, err
	}
	i := p.NextToBroadcast()
	if i < 0 {
		return PackageSummary{}, NewErr(NotAvailable, "package %s has no draft awaiting broadcast", id)
	}
	if i > 0 && p.Topology != TopologyReplacement {
		if err := p.RebindDependent(p.Status[0].BroadcastTxID); err != nil {
			return PackageSummary{}, err
		}
	}
	summary, err := a.broadcastNext(p)
	if err != nil {
		return summary, err
	}
	a.bus.Send(PKG_ADVANCED, map[string]string{"id": p.ID})
	return summary, nil
}

// broadcastNext signs and sends the next built draft, then persists the
// updated package. The wallet may report the signing incomplete when an
// input needs no signature (the anchor input); the hex is used regardless.
func (a API) broadcastNext(p *Package) (PackageSummary, error) {
	i := p.NextToBroadcast()
	if i < 0 {
		return a.summary(p), nil
	}
	raw, err := p.Drafts[i].Hex()
	if err != nil {
		return PackageSummary{}, err
	}
	signed, err := a.L1.SignRawTransaction(raw)
	if err != nil {
		return PackageSummary{}, NewErr(L1Error, "signing draft %d of %s: %v", i, p.ID, err)
	}
	txid, err := a.L1.SendRawTransaction(signed.Hex)
	if err != nil {
		return PackageSummary{}, NewErr(L1Error, "broadcasting draft %d of %s: %v", i, p.ID, err)
	}
	// keep the signed form so reloads reproduce what the node accepted
	sd, err := DraftFromHex(signed.Hex)
	if err != nil {
		return PackageSummary{}, err
	}
	p.Drafts[i] = sd
	if err := p.MarkBroadcast(i, txid); err != nil {
		return PackageSummary{}, err
	}

	tx, err := a.Store.Begin()
	if err != nil {
		return PackageSummary{}, err
	}
	defer tx.Rollback()
	if err := tx.UpdatePackage(p); err != nil {
		return PackageSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return PackageSummary{}, err
	}
	a.bus.Send(PKG_BROADCAST, map[string]string{"id": p.ID, "txid": txid})
	return a.summary(p), nil
}

func (a API) GetPackage(id string) (PackageSummary, error) {
	p, err := a.Store.GetPackage(id)
	if err != nil {
		return PackageSummary{}, err
	}
	return a.summary(p), nil
}

// AnchorRef returns the outpoint a fee-payer must spend to accelerate the
// package's main transaction.
func (a API) AnchorRef(id string) (SpendableOutput, error) {
	p, err := a.Store.GetPackage(id)
	if err != nil {
		return SpendableOutput{}, err
	}
	ref, ok := p.AnchorOutPoint()
	if !ok {
		return SpendableOutput{}, NewErr(NotAvailable, "package %s has no anchor output", id)
	}
	return ref, nil
}

func (a API) DecodeTxn(txHex string) (RawTxn, error) {
	if _, err := DraftFromHex(txHex); err != nil {
		return RawTxn{}, err
	}
	return a.L1.DecodeRawTransaction(txHex)
}

func (a API) summary(p *Package) PackageSummary {
	s := PackageSummary{
		ID:        p.ID,
		Topology:  p.Topology.String(),
		Anchor:    p.Anchor.String(),
		Outcome:   string(p.Outcome),
		Succeeded: p.Succeeded(),
	}
	for i, d := range p.Drafts {
		h, _ := d.Hex()
		s.Drafts = append(s.Drafts, DraftSummary{
			TxID:          d.TxID(),
			BroadcastTxID: p.Status[i].BroadcastTxID,
			State:         string(p.Status[i].State),
			Version:       d.Version(),
			ConfirmHeight: p.Status[i].ConfirmHeight,
			Hex:           h,
		})
	}
	return s
}

func (a API) resolveAddress(addr string) (btcutil.Address, error) {
	if addr == "" {
		fresh, err := a.L1.NewAddress()
		if err != nil {
			return nil, NewErr(L1Error, "requesting wallet address: %v", err)
		}
		addr = fresh
	}
	dest, err := btcutil.DecodeAddress(addr, a.cfg.ChainParams())
	if err != nil {
		return nil, NewErr(BadRequest, "invalid address %q for %s: %v", addr, a.cfg.BumpKit.Network, err)
	}
	return dest, nil
}

// resolveFunding maps an optional outpoint pin to a spendable output. With
// no pin it picks the largest spendable confirmed output that clears the
// required amount, skipping the exclude outpoint if one is given.
func (a API) resolveFunding(ref *OutPointRef, need btcutil.Amount, exclude *SpendableOutput) (SpendableOutput, error) {
	unspent, err := a.L1.ListUnspent()
	if err != nil {
		return SpendableOutput{}, NewErr(L1Error, "listing unspent outputs: %v", err)
	}
	candidates := make([]SpendableOutput, 0, len(unspent))
	for _, u := range unspent {
		if !u.Spendable || u.Confirmations < 1 {
			continue
		}
		value, err := AmountFromDecimal(u.Amount)
		if err != nil {
			return SpendableOutput{}, err
		}
		out := SpendableOutput{TxID: u.TxID, VOut: u.VOut, Value: value}
		if exclude != nil && out.SameOutPoint(*exclude) {
			continue
		}
		if ref != nil {
			if u.TxID == ref.TxID && u.VOut == ref.VOut {
				return out, nil
			}
			continue
		}
		candidates = append(candidates, out)
	}
	if ref != nil {
		return SpendableOutput{}, NewErr(NotFound, "output %s:%d is not spendable by this wallet", ref.TxID, ref.VOut)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Value > candidates[j].Value })
	if len(candidates) == 0 || candidates[0].Value <= need {
		return SpendableOutput{}, NewErr(InsufficientFunds,
			"no confirmed output larger than %s available", need)
	}
	return candidates[0], nil
}
