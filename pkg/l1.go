package bump

import (
	"github.com/shopspring/decimal"
)

// L1 represents access to the node's L1 functionality: the listunspent /
// sign / broadcast / observe surface this engine is built against. The
// node owns consensus, the wallet owns keys; this interface is the whole
// of what BumpKit asks of either.
type L1 interface {
	ListUnspent() ([]Unspent, error)
	SignRawTransaction(txHex string) (SignedTxn, error)
	SendRawTransaction(txHex string) (txid string, err error)
	GetRawMempool() ([]string, error)
	GetBlock(blockHash string) (RpcBlock, error)
	GetBlockHeader(blockHash string) (RpcBlockHeader, error)
	GetBlockHash(height int64) (string, error)
	GetBestBlockHash() (string, error)
	GetBlockCount() (int64, error)
	GetRawTransaction(txid string) (RawTxn, error)
	DecodeRawTransaction(txHex string) (RawTxn, error)
	NewAddress() (string, error)
}

// Unspent is one entry from the node's listunspent query.
type Unspent struct {
	TxID          string          `json:"txid"`
	VOut          uint32          `json:"vout"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	Spendable     bool            `json:"spendable"`
}

// SignedTxn is the wallet's answer to signrawtransactionwithwallet.
// Complete can be false when an input needs no signature at all (the
// anchor input); the hex is still broadcastable.
type SignedTxn struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

type RpcBlock struct {
	Hash              string   `json:"hash"`
	Height            int64    `json:"height"`
	Confirmations     int64    `json:"confirmations"` // -1 means not on-chain
	Tx                []string `json:"tx"`
	PreviousBlockHash string   `json:"previousblockhash"`
	NextBlockHash     string   `json:"nextblockhash"`
}

type RpcBlockHeader struct {
	Hash              string `json:"hash"`
	Height            int64  `json:"height"`
	Confirmations     int64  `json:"confirmations"` // -1 means not on-chain
	PreviousBlockHash string `json:"previousblockhash"`
	NextBlockHash     string `json:"nextblockhash"`
}

type RawTxn struct {
	TxID     string      `json:"txid"`
	Version  int32       `json:"version"`
	LockTime uint32      `json:"locktime"`
	VIn      []RawTxnVIn `json:"vin"`
	VOut     []RawTxnOut `json:"vout"`
	// Set only when the node reports the transaction as included.
	BlockHash     string `json:"blockhash"`
	Confirmations int64  `json:"confirmations"`
}

type RawTxnVIn struct {
	TxID     string `json:"txid"`
	VOut     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

type RawTxnOut struct {
	Value        decimal.Decimal `json:"value"`
	N            uint32          `json:"n"`
	ScriptPubKey struct {
		Hex     string `json:"hex"`
		Type    string `json:"type"`
		Address string `json:"address"`
	} `json:"scriptPubKey"`
}

// NodeEmitter is a source of L1 node events (tx seen, block announced).
type NodeEmitter interface {
	Subscribe(chan<- NodeEvent)
}

// NodeEvent is a notification from the node's ZMQ interface.
type NodeEventType int

const (
	TX NodeEventType = iota
	Block
)

type NodeEvent struct {
	Type NodeEventType
	ID   string
	Data string
}

// ChainPos is the follower's persisted cursor: the last block whose
// transactions have been folded into draft states.
type ChainPos struct {
	BestBlockHash   string
	BestBlockHeight int64
}
