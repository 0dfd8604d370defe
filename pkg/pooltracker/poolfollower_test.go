package pooltracker

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/bumpkit/bumpkit/pkg/store"
)

// fakeL1 serves a one-block chain plus a mutable mempool and a map of
// transactions the node still knows about (getrawtransaction).
type fakeL1 struct {
	mempool []string
	known   map[string]bump.RawTxn
	headers map[string]bump.RpcBlockHeader
	tip     string
	height  int64
}

func (f *fakeL1) ListUnspent() ([]bump.Unspent, error) { return nil, nil }
func (f *fakeL1) SignRawTransaction(h string) (bump.SignedTxn, error) {
	return bump.SignedTxn{Hex: h, Complete: true}, nil
}
func (f *fakeL1) SendRawTransaction(h string) (string, error)        { return "", nil }
func (f *fakeL1) GetRawMempool() ([]string, error)                   { return f.mempool, nil }
func (f *fakeL1) GetBestBlockHash() (string, error)                  { return f.tip, nil }
func (f *fakeL1) GetBlockCount() (int64, error)                      { return f.height, nil }
func (f *fakeL1) NewAddress() (string, error)                        { return "", nil }
func (f *fakeL1) DecodeRawTransaction(h string) (bump.RawTxn, error) { return bump.RawTxn{}, nil }

func (f *fakeL1) GetBlock(hash string) (bump.RpcBlock, error) {
	return bump.RpcBlock{}, bump.NewErr(bump.NotFound, "no block %s", hash)
}

func (f *fakeL1) GetBlockHeader(hash string) (bump.RpcBlockHeader, error) {
	hdr, ok := f.headers[hash]
	if !ok {
		return bump.RpcBlockHeader{}, bump.NewErr(bump.NotFound, "no header %s", hash)
	}
	return hdr, nil
}

func (f *fakeL1) GetBlockHash(height int64) (string, error) {
	if height != f.height {
		return "", bump.NewErr(bump.NotFound, "no block at height %d", height)
	}
	return f.tip, nil
}

func (f *fakeL1) GetRawTransaction(txid string) (bump.RawTxn, error) {
	raw, ok := f.known[txid]
	if !ok {
		return bump.RawTxn{}, bump.NewErr(bump.NotFound, "no txn %s", txid)
	}
	return raw, nil
}

func followerAddr(t *testing.T, fill byte) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{fill}, 20), &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("cannot make test address: %v", err)
	}
	return addr
}

func seedBroadcastPackage(t *testing.T, db store.SQLiteStore) string {
	t.Helper()
	out := bump.SpendableOutput{TxID: strings.Repeat("ab", 32), VOut: 0, Value: 100_000_000}
	p, err := bump.BuildParentChild(out, followerAddr(t, 0x01), followerAddr(t, 0x02), 10_000, 1_000_000)
	if err != nil {
		t.Fatalf("BuildParentChild failed: %v", err)
	}
	p.MarkBroadcast(0, "tx-parent")
	p.MarkBroadcast(1, "tx-child")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback()
	if err := tx.CreatePackage(p); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return p.ID
}

func TestPoolFollowerEvictionAndRecovery(t *testing.T) {
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Cannot create in-memory database: %v", err)
	}
	t.Cleanup(db.Close)

	bus := bump.NewMessageBus()
	started, stopped := make(chan bool, 1), make(chan bool, 1)
	stop := make(chan context.Context)
	bus.Run(started, stopped, stop)
	<-started
	t.Cleanup(func() { stop <- context.Background() })

	id := seedBroadcastPackage(t, db)

	l1 := &fakeL1{
		tip:    "blk-100",
		height: 100,
		headers: map[string]bump.RpcBlockHeader{
			"blk-100": {Hash: "blk-100", Height: 100, Confirmations: 1},
			"blk-101": {Hash: "blk-101", Height: 101, Confirmations: 1},
		},
	}
	f, err := NewPoolFollower(bump.TestConfig(), l1, db, bus)
	if err != nil {
		t.Fatalf("NewPoolFollower failed: %v", err)
	}
	f.stop = make(chan context.Context)
	f.stopped = make(chan bool, 1)

	cursor, stopping := f.initCursorAtTip()
	if stopping || cursor != "blk-100" {
		t.Fatalf("initCursorAtTip = %q stopping=%v", cursor, stopping)
	}

	observe := func() *bump.Package {
		t.Helper()
		if _, stopping := f.walkChainForwards(cursor); stopping {
			t.Fatalf("walkChainForwards stopped unexpectedly")
		}
		p, err := db.GetPackage(id)
		if err != nil {
			t.Fatalf("GetPackage failed: %v", err)
		}
		return p
	}

	// Both transactions visible in the pool.
	l1.mempool = []string{"tx-parent", "tx-child"}
	if p := observe(); p.Outcome != bump.OutcomeBothPending {
		t.Errorf("outcome = %v, want both-pending", p.Outcome)
	}
	pos, err := db.GetChainPos()
	if err != nil || pos.BestBlockHash != "blk-100" || pos.BestBlockHeight != 100 {
		t.Errorf("chain cursor = %+v err=%v", pos, err)
	}

	// Missing from getrawmempool, but the node still holds both: the
	// direct query keeps them classified as pending.
	l1.mempool = nil
	l1.known = map[string]bump.RawTxn{
		"tx-parent": {TxID: "tx-parent"},
		"tx-child":  {TxID: "tx-child"},
	}
	if p := observe(); p.Outcome != bump.OutcomeBothPending {
		t.Errorf("outcome = %v with txns still known, want both-pending", p.Outcome)
	}

	// The node dropped both transactions entirely.
	l1.known = nil
	p := observe()
	if p.Outcome != bump.OutcomeUnknown {
		t.Errorf("outcome = %v after eviction, want unknown", p.Outcome)
	}
	if p.Succeeded() {
		t.Errorf("evicted package reports success")
	}

	// They reappear as included in a block the scan never visited.
	l1.known = map[string]bump.RawTxn{
		"tx-parent": {TxID: "tx-parent", BlockHash: "blk-101", Confirmations: 1},
		"tx-child":  {TxID: "tx-child", BlockHash: "blk-101", Confirmations: 1},
	}
	p = observe()
	if p.Outcome != bump.OutcomeBothConfirmed {
		t.Errorf("outcome = %v after inclusion, want both-confirmed", p.Outcome)
	}
	if p.Status[0].ConfirmHeight != 101 || p.Status[1].ConfirmHeight != 101 {
		t.Errorf("confirm heights = %d, %d, want 101", p.Status[0].ConfirmHeight, p.Status[1].ConfirmHeight)
	}
}
