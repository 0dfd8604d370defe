package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/julienschmidt/httprouter"
	"github.com/bumpkit/bumpkit/pkg/conductor"
)

// WebAPI implements conductor.Service
type WebAPI struct {
	api    bump.API
	config bump.Config
}

// interface guard ensures WebAPI implements conductor.Service
var _ conductor.Service = WebAPI{}

func NewWebAPI(config bump.Config, api bump.API) (WebAPI, error) {
	return WebAPI{api: api, config: config}, nil
}

func (t WebAPI) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		mux := t.createRouter()

		server := &http.Server{Addr: t.config.WebAPI.Bind + ":" + t.config.WebAPI.Port, Handler: mux}
		fmt.Printf("\nBump API listening on %s:%s", t.config.WebAPI.Bind, t.config.WebAPI.Port)
		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server ListenAndServe: %v", err)
			}
		}()

		started <- true
		ctx := <-stop
		server.Shutdown(ctx)
		stopped <- true
	}()
	return nil
}

func (t WebAPI) createRouter() *httprouter.Router {
	mux := httprouter.New()

	// POST { fees, addresses } /bump/rbf -> { package } build + broadcast the original txn
	mux.POST("/bump/rbf", t.bumpRBF)

	// POST { fees, addresses } /bump/cpfp -> { package } build + broadcast the parent txn
	mux.POST("/bump/cpfp", t.bumpCPFP)

	// POST { fees, addresses } /bump/p2a -> { package } build + broadcast the anchor-carrying txn
	mux.POST("/bump/p2a", t.bumpP2A)

	// POST /package/:id/advance -> { package } broadcast the next draft in order
	mux.POST("/package/:id/advance", t.advancePackage)

	// GET /package/:id -> { package } full package including draft hex
	mux.GET("/package/:id", t.getPackage)

	// GET /package/:id/status -> { outcome, drafts } tracked status only
	mux.GET("/package/:id/status", t.getPackageStatus)

	// GET /package/:id/anchor/qr.png -> QR of the anchor outpoint for external fee-payers
	mux.GET("/package/:id/anchor/qr.png", t.getAnchorQR)

	// POST /decode-txn -> test decoding
	mux.POST("/decode-txn", t.decodeTxn)

	return mux
}

// Fee amounts arrive as BTC decimal strings ("0.0001"), same format the
// node reports, and are converted without rounding.
type bumpRBFRequest struct {
	Funding *bump.OutPointRef `json:"funding"`
	Dest    string            `json:"dest"`
	LowFee  string            `json:"low_fee"`
	HighFee string            `json:"high_fee"`
}

type bumpCPFPRequest struct {
	Funding      *bump.OutPointRef `json:"funding"`
	Intermediate string            `json:"intermediate"`
	Final        string            `json:"final"`
	ParentFee    string            `json:"parent_fee"`
	ChildFee     string            `json:"child_fee"`
}

type bumpP2ARequest struct {
	Funding    *bump.OutPointRef `json:"funding"`
	FeeFunding *bump.OutPointRef `json:"fee_funding"`
	Dest       string            `json:"dest"`
	Change     string            `json:"change"`
	MainFee    string            `json:"main_fee"`
	SpendFee   string            `json:"spend_fee"`
}

func (t WebAPI) bumpRBF(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o bumpRBFRequest
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	lowFee, ok := t.parseFee(w, "low_fee", o.LowFee)
	if !ok {
		return
	}
	highFee, ok := t.parseFee(w, "high_fee", o.HighFee)
	if !ok {
		return
	}
	summary, err := t.api.BuildReplacement(bump.ReplacementArgs{
		Funding: o.Funding,
		Dest:    o.Dest,
		LowFee:  lowFee,
		HighFee: highFee,
	})
	if err != nil {
		sendError(w, "BuildReplacement", err)
		return
	}
	sendResponse(w, summary)
}

func (t WebAPI) bumpCPFP(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o bumpCPFPRequest
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	parentFee, ok := t.parseFee(w, "parent_fee", o.ParentFee)
	if !ok {
		return
	}
	childFee, ok := t.parseFee(w, "child_fee", o.ChildFee)
	if !ok {
		return
	}
	summary, err := t.api.BuildParentChild(bump.ParentChildArgs{
		Funding:      o.Funding,
		Intermediate: o.Intermediate,
		Final:        o.Final,
		ParentFee:    parentFee,
		ChildFee:     childFee,
	})
	if err != nil {
		sendError(w, "BuildParentChild", err)
		return
	}
	sendResponse(w, summary)
}

func (t WebAPI) bumpP2A(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o bumpP2ARequest
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	mainFee, ok := t.parseFee(w, "main_fee", o.MainFee)
	if !ok {
		return
	}
	spendFee, ok := t.parseFee(w, "spend_fee", o.SpendFee)
	if !ok {
		return
	}
	summary, err := t.api.BuildAnchorSpend(bump.AnchorSpendArgs{
		Funding:    o.Funding,
		FeeFunding: o.FeeFunding,
		Dest:       o.Dest,
		Change:     o.Change,
		MainFee:    mainFee,
		SpendFee:   spendFee,
	})
	if err != nil {
		sendError(w, "BuildAnchorSpend", err)
		return
	}
	sendResponse(w, summary)
}

func (t WebAPI) advancePackage(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if id == "" {
		sendBadRequest(w, "missing package ID in URL")
		return
	}
	summary, err := t.api.AdvancePackage(id)
	if err != nil {
		sendError(w, "AdvancePackage", err)
		return
	}
	sendResponse(w, summary)
}

func (t WebAPI) getPackage(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if id == "" {
		sendBadRequest(w, "missing package ID in URL")
		return
	}
	summary, err := t.api.GetPackage(id)
	if err != nil {
		sendError(w, "GetPackage", err)
		return
	}
	sendResponse(w, summary)
}

type draftStatusResponse struct {
	TxID          string `json:"txid"`
	State         string `json:"state"`
	ConfirmHeight int64  `json:"confirm_height,omitempty"`
}

type packageStatusResponse struct {
	ID        string                `json:"id"`
	Topology  string                `json:"topology"`
	Outcome   string                `json:"outcome"`
	Succeeded bool                  `json:"succeeded"`
	Drafts    []draftStatusResponse `json:"drafts"`
}

func (t WebAPI) getPackageStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if id == "" {
		sendBadRequest(w, "missing package ID in URL")
		return
	}
	summary, err := t.api.GetPackage(id)
	if err != nil {
		sendError(w, "GetPackage", err)
		return
	}
	status := packageStatusResponse{
		ID:        summary.ID,
		Topology:  summary.Topology,
		Outcome:   summary.Outcome,
		Succeeded: summary.Succeeded,
	}
	for _, d := range summary.Drafts {
		txid := d.BroadcastTxID
		if txid == "" {
			txid = d.TxID
		}
		status.Drafts = append(status.Drafts, draftStatusResponse{
			TxID:          txid,
			State:         d.State,
			ConfirmHeight: d.ConfirmHeight,
		})
	}
	sendResponse(w, status)
}

// getAnchorQR renders the anchor outpoint of a P2A package as a QR code,
// for handing to an external fee-payer.
func (t WebAPI) getAnchorQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if id == "" {
		sendBadRequest(w, "missing package ID in URL")
		return
	}
	ref, err := t.api.AnchorRef(id)
	if err != nil {
		sendError(w, "AnchorRef", err)
		return
	}
	qr, err := anchorQRPNG(ref, 512)
	if err != nil {
		sendError(w, "anchorQRPNG", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// The anchor outpoint can change once between build and broadcast
	// (signing the main draft changes its txid), so no long-lived caching.
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(qr)
}

type decodeTxnRequest struct {
	Hex string `json:"hex"`
}

func (t WebAPI) decodeTxn(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var o decodeTxnRequest
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	if o.Hex == "" {
		sendBadRequest(w, "missing 'hex' in JSON body")
		return
	}
	txn, err := t.api.DecodeTxn(o.Hex)
	if err != nil {
		sendError(w, "DecodeTxn", err)
		return
	}
	sendResponse(w, txn)
}

func (t WebAPI) parseFee(w http.ResponseWriter, field, value string) (btcutil.Amount, bool) {
	if value == "" {
		sendBadRequest(w, fmt.Sprintf("missing '%s' in JSON body", field))
		return 0, false
	}
	fee, err := bump.ParseBTC(value)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("invalid '%s': %v", field, err))
		return 0, false
	}
	return fee, true
}
