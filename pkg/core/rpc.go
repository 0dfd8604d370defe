package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	bump "github.com/bumpkit/bumpkit/pkg"
)

// interface guard ensures L1CoreRPC implements bump.L1
var _ bump.L1 = L1CoreRPC{}

// NewBitcoinCoreRPC returns a bump.L1 implementor that uses bitcoin-core's
// RPC interface. Wallet methods (listunspent, signing, getnewaddress) go
// through the wallet path so multi-wallet nodes resolve correctly.
func NewBitcoinCoreRPC(config bump.Config) (L1CoreRPC, error) {
	node, ok := config.Node[config.BumpKit.Network]
	if !ok {
		return L1CoreRPC{}, fmt.Errorf("no node configured for network %q", config.BumpKit.Network)
	}
	addr := fmt.Sprintf("http://%s:%d", node.Host, node.RPCPort)
	walletAddr := addr
	if node.WalletName != "" {
		walletAddr = fmt.Sprintf("%s/wallet/%s", addr, node.WalletName)
	}
	var id uint64 = 1
	return L1CoreRPC{addr, walletAddr, node.RPCUser, node.RPCPass, &id}, nil
}

type L1CoreRPC struct {
	url       string
	walletURL string
	user      string
	pass      string
	id        *uint64
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	Id     uint64 `json:"id"`
}
type rpcResponse struct {
	Id     uint64           `json:"id"`
	Result *json.RawMessage `json:"result"`
	Error  any              `json:"error"`
}

func (l L1CoreRPC) request(url string, method string, params []any, result any) error {
	body := rpcRequest{
		Method: method,
		Params: params,
		Id:     *l.id,
	}
	*l.id += 1 // each request should use a unique ID
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("json-rpc marshal request: %v", err)
	}
	req, err := http.NewRequest("POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("json-rpc request: %v", err)
	}
	req.SetBasicAuth(l.user, l.pass)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("json-rpc transport: %v", err)
	}
	// we MUST read all of res.Body and call res.Close,
	// otherwise the underlying connection cannot be re-used.
	defer res.Body.Close()
	res_bytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("json-rpc read response: %v", err)
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("json-rpc status code: %s", res.Status)
	}
	// cannot use json.NewDecoder: "The decoder introduces its own buffering
	// and may read data from r beyond the JSON values requested."
	var rpcres rpcResponse
	err = json.Unmarshal(res_bytes, &rpcres)
	if err != nil {
		return fmt.Errorf("json-rpc unmarshal response: %v", err)
	}
	if rpcres.Id != body.Id {
		return fmt.Errorf("json-rpc wrong ID returned: %v vs %v", rpcres.Id, body.Id)
	}
	if rpcres.Error != nil {
		return fmt.Errorf("json-rpc error returned: %v", rpcres.Error)
	}
	if rpcres.Result == nil {
		return fmt.Errorf("json-rpc missing result")
	}
	err = json.Unmarshal(*rpcres.Result, result)
	if err != nil {
		return fmt.Errorf("json-rpc unmarshal result: %v | %v", err, string(*rpcres.Result))
	}
	return nil
}

func (l L1CoreRPC) ListUnspent() (utxos []bump.Unspent, err error) {
	minConf := 1
	err = l.request(l.walletURL, "listunspent", []any{minConf}, &utxos)
	return
}

func (l L1CoreRPC) SignRawTransaction(txHex string) (signed bump.SignedTxn, err error) {
	err = l.request(l.walletURL, "signrawtransactionwithwallet", []any{txHex}, &signed)
	return
}

func (l L1CoreRPC) SendRawTransaction(txHex string) (txid string, err error) {
	err = l.request(l.url, "sendrawtransaction", []any{txHex}, &txid)
	return
}

func (l L1CoreRPC) GetRawMempool() (txids []string, err error) {
	err = l.request(l.url, "getrawmempool", []any{}, &txids)
	return
}

func (l L1CoreRPC) GetBlock(blockHash string) (block bump.RpcBlock, err error) {
	decode := true // to get back JSON rather than HEX
	err = l.request(l.url, "getblock", []any{blockHash, decode}, &block)
	return
}

func (l L1CoreRPC) GetBlockHeader(blockHash string) (header bump.RpcBlockHeader, err error) {
	decode := true // to get back JSON rather than HEX
	err = l.request(l.url, "getblockheader", []any{blockHash, decode}, &header)
	return
}

func (l L1CoreRPC) GetBlockHash(height int64) (hash string, err error) {
	err = l.request(l.url, "getblockhash", []any{height}, &hash)
	return
}

func (l L1CoreRPC) GetBestBlockHash() (hash string, err error) {
	err = l.request(l.url, "getbestblockhash", []any{}, &hash)
	return
}

func (l L1CoreRPC) GetBlockCount() (count int64, err error) {
	err = l.request(l.url, "getblockcount", []any{}, &count)
	return
}

func (l L1CoreRPC) GetRawTransaction(txid string) (txn bump.RawTxn, err error) {
	verbose := true // to get back JSON rather than HEX
	err = l.request(l.url, "getrawtransaction", []any{txid, verbose}, &txn)
	return
}

func (l L1CoreRPC) DecodeRawTransaction(txHex string) (txn bump.RawTxn, err error) {
	err = l.request(l.url, "decoderawtransaction", []any{txHex}, &txn)
	return
}

func (l L1CoreRPC) NewAddress() (addr string, err error) {
	err = l.request(l.walletURL, "getnewaddress", []any{}, &addr)
	return
}
