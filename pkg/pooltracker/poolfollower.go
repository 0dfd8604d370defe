package pooltracker

import (
	"context"
	"log"
	"time"

	bump "github.com/bumpkit/bumpkit/pkg"
)

const (
	RETRY_DELAY      = 5 * time.Second
	poolPollInterval = 20 * time.Second
)

type PoolFollower struct {
	l1               bump.L1
	store            bump.Store
	bus              bump.MessageBus
	ReceiveBestBlock chan string
	stop             chan context.Context
	stopped          chan bool
}

/*
 * PoolFollower watches the node's unconfirmed pool and the blockchain,
 * folding what it sees into the state of every tracked package.
 *
 * On each new Best Block it walks forwards from its stored cursor,
 * collecting which tracked transactions were included and at what height.
 * If there's a reorganisation it walks backwards to the fork-point,
 * reverting recorded confirmations as it goes, then resumes forwards on
 * the new best chain.
 *
 * Between blocks it polls the pool on a timer, because eviction (the
 * interesting event for replacements) happens without any block at all.
 *
 * ReceiveBestBlock has capacity 1 because we only need to know that the
 * tip has changed since last time we checked (i.e. dirty flag); we don't
 * care about the actual block hash.
 */
func NewPoolFollower(conf bump.Config, l1 bump.L1, store bump.Store, bus bump.MessageBus) (*PoolFollower, error) {
	result := &PoolFollower{
		l1:               l1,
		store:            store,
		bus:              bus,
		ReceiveBestBlock: make(chan string, 1), // signal that tip has changed.
	}
	return result, nil
}

func (f *PoolFollower) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		f.stop, f.stopped = stop, stopped // for helpers.
		started <- true

		// Fetch the last processed Best Block hash from the DB (restart point)
		// INVARIANT: package states in our database contain the effects of
		// every block up to and including the stored cursor.
		// We MUST update package states before we update this hash.
		log.Println("PoolFollower: fetching chain cursor")
		pos, stopping := f.fetchChainPos()
		if stopping {
			return // stopped.
		}

		lastBlockProcessed := pos.BestBlockHash
		if lastBlockProcessed == "" {
			// No cursor stored: first run. Packages cannot predate the
			// service, so start the cursor at the current tip.
			lastBlockProcessed, stopping = f.initCursorAtTip()
			if stopping {
				return // stopped.
			}
		}

		lastBlockProcessed, stopping = f.walkChainForwards(lastBlockProcessed)
		if stopping {
			return // stopped.
		}

		// Main loop: refresh on each new Best Block, and on a timer so
		// pool evictions are noticed between blocks.
		for {
			select {
			case <-stop:
				stopped <- true
				return
			case <-f.ReceiveBestBlock:
				log.Println("PoolFollower: received new block signal")
			case <-time.After(poolPollInterval):
			}

			lastBlockProcessed, stopping = f.walkChainForwards(lastBlockProcessed)
			if stopping {
				return // stopped.
			}
		}
	}()

	return nil
}

// walkChainForwards advances the cursor from lastBlockProcessed to the
// current tip, then folds a fresh pool snapshot into every active package.
func (f *PoolFollower) walkChainForwards(lastBlockProcessed string) (string, bool) {
	confirmed := make(map[string]bool)
	heights := make(map[string]int64)

	// Check if the last-processed block is still on-chain, and fetch the
	// 'nextblockhash' (if any) from the node's chainstate. Our block might
	// have been part of a fork any time since we last looked.
	lastBlock, stopping := f.fetchBlockHeader(lastBlockProcessed)
	if stopping {
		return "", true // stopped.
	}
	nextBlockToProcess := lastBlock.NextBlockHash
	lastHeight := lastBlock.Height
	if lastBlock.Confirmations == -1 {
		// The last block we processed is no longer on-chain, so roll back
		// recorded confirmations until we find a block that is on-chain.
		lastBlockProcessed, nextBlockToProcess, lastHeight, stopping = f.rollBackConfirmations(lastBlock.PreviousBlockHash)
		if stopping {
			return "", true // stopped.
		}
	}

	tracked, stopping := f.trackedTxIDs()
	if stopping {
		return "", true // stopped.
	}

	for nextBlockToProcess != "" {
		block, stopping := f.fetchBlock(nextBlockToProcess)
		if stopping {
			return "", true // stopped.
		}
		if block.Confirmations != -1 {
			for _, txid := range block.Tx {
				if tracked[txid] {
					log.Println("PoolFollower: tracked txn confirmed:", txid, "at height", block.Height)
					confirmed[txid] = true
					heights[txid] = block.Height
				}
			}
			lastBlockProcessed = block.Hash
			lastHeight = block.Height
			nextBlockToProcess = block.NextBlockHash // can be ""
			// Loops must check for shutdown before looping.
			if f.checkShutdown() {
				return "", true // stopped.
			}
		} else {
			// This block is no longer on-chain, so roll back prior blocks
			// until we find a block that is on-chain.
			lastBlockProcessed, nextBlockToProcess, lastHeight, stopping = f.rollBackConfirmations(block.PreviousBlockHash)
			if stopping {
				return "", true // stopped.
			}
		}
	}

	stopping = f.observePool(tracked, confirmed, heights, lastBlockProcessed, lastHeight)
	if stopping {
		return "", true // stopped.
	}
	return lastBlockProcessed, false
}

// observePool snapshots the node's pool, folds it plus the newly-observed
// confirmations into every active package, and commits the updated states
// together with the chain cursor.
func (f *PoolFollower) observePool(tracked, confirmed map[string]bool, heights map[string]int64, bestHash string, bestHeight int64) bool {
	mempool, stopping := f.fetchRawMempool()
	if stopping {
		return true // stopped.
	}
	pool := make(map[string]bool, len(mempool))
	for _, txid := range mempool {
		pool[txid] = true
	}

	// Before treating a tracked txn as gone, ask the node about it
	// directly: getrawmempool and the block scan are separate queries and
	// a txn can confirm or re-enter the pool between them. A node without
	// txindex only answers for txns it still holds, which is exactly the
	// distinction we need.
	for txid := range tracked {
		if pool[txid] || confirmed[txid] {
			continue
		}
		raw, err := f.l1.GetRawTransaction(txid)
		if err != nil {
			continue // the node no longer knows it.
		}
		if raw.BlockHash != "" {
			confirmed[txid] = true
			if hdr, err := f.l1.GetBlockHeader(raw.BlockHash); err == nil {
				heights[txid] = hdr.Height
			}
		} else {
			pool[txid] = true
		}
	}

	snap := bump.PoolSnapshot{Mempool: pool, Confirmed: confirmed, Heights: heights}

	// wrap the following in a transaction with retry.
	for {
		tx := f.beginStoreTxn()
		if tx == nil {
			return true // stopped.
		}
		packages, err := tx.ListActivePackages()
		if err != nil {
			tx.Rollback()
			log.Println("PoolFollower: observePool: cannot ListActivePackages:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		var announce []announcement
		failed := false
		for _, p := range packages {
			before := p.Outcome
			outcome, obsErr := p.Observe(snap)
			if obsErr != nil {
				// An impossible state is recorded, not repaired.
				log.Println("PoolFollower: observePool:", obsErr)
			}
			if err := tx.UpdatePackage(p); err != nil {
				tx.Rollback()
				log.Println("PoolFollower: observePool: cannot UpdatePackage:", err)
				failed = true
				break
			}
			if outcome != before {
				announce = append(announce, announcement{p.ID, outcome})
			}
		}
		if failed {
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		err = tx.UpdateChainPos(bump.ChainPos{BestBlockHash: bestHash, BestBlockHeight: bestHeight})
		if err != nil {
			tx.Rollback()
			log.Println("PoolFollower: observePool: cannot UpdateChainPos:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		err = tx.Commit()
		if err != nil {
			log.Println("PoolFollower: observePool: cannot commit:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		for _, a := range announce {
			f.announce(a)
		}
		return false // success.
	}
}

type announcement struct {
	id      string
	outcome bump.PackageOutcome
}

func (f *PoolFollower) announce(a announcement) {
	body := map[string]string{"id": a.id, "outcome": string(a.outcome)}
	switch a.outcome {
	case bump.OutcomeBothConfirmed:
		f.bus.Send(bump.PKG_CONFIRMED, body)
	case bump.OutcomeSupersededEvicted:
		f.bus.Send(bump.PKG_SUPERSEDED, body)
	case bump.OutcomePartiallyConfirmed:
		f.bus.Send(bump.PKG_PARTIAL, body)
	}
}

// rollBackConfirmations walks backwards along the chain to find an
// on-chain block, then reverts confirmations recorded above its height.
func (f *PoolFollower) rollBackConfirmations(previousBlockHash string) (string, string, int64, bool) {
	log.Println("PoolFollower: rolling back from:", previousBlockHash)
	for {
		block, stopping := f.fetchBlockHeader(previousBlockHash)
		if stopping {
			return "", "", 0, true // stopped.
		}
		if block.Confirmations == -1 {
			// This block is no longer on-chain, so keep walking.
			previousBlockHash = block.PreviousBlockHash
			// Loops must check for shutdown before looping.
			if f.checkShutdown() {
				return "", "", 0, true // stopped.
			}
		} else {
			// Found an on-chain block: revert confirmations above its height.
			stopping = f.revertAboveHeight(block.Height, block.Hash)
			if stopping {
				return "", "", 0, true // stopped.
			}
			return block.Hash, block.NextBlockHash, block.Height, false
		}
	}
}

func (f *PoolFollower) revertAboveHeight(maxValidHeight int64, blockHash string) bool {
	log.Println("PoolFollower: reverting confirmations above height:", maxValidHeight)
	// wrap the following in a transaction with retry.
	for {
		tx := f.beginStoreTxn()
		if tx == nil {
			return true // stopped.
		}
		packages, err := tx.ListActivePackages()
		if err != nil {
			tx.Rollback()
			log.Println("PoolFollower: revertAboveHeight: cannot ListActivePackages:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		failed := false
		for _, p := range packages {
			if !p.RevertConfirmationsAbove(maxValidHeight) {
				continue
			}
			if err := tx.UpdatePackage(p); err != nil {
				tx.Rollback()
				log.Println("PoolFollower: revertAboveHeight: cannot UpdatePackage:", err)
				failed = true
				break
			}
		}
		if failed {
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		err = tx.UpdateChainPos(bump.ChainPos{BestBlockHash: blockHash, BestBlockHeight: maxValidHeight})
		if err != nil {
			tx.Rollback()
			log.Println("PoolFollower: revertAboveHeight: cannot UpdateChainPos:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		err = tx.Commit()
		if err != nil {
			log.Println("PoolFollower: revertAboveHeight: cannot commit:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return true // stopped.
			}
			continue // retry.
		}
		return false // success.
	}
}

// trackedTxIDs collects the broadcast txids of every active package, so
// block scans only record inclusions we care about.
func (f *PoolFollower) trackedTxIDs() (map[string]bool, bool) {
	for {
		packages, err := f.store.ListActivePackages()
		if err != nil {
			log.Println("PoolFollower: error listing active packages:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return nil, true // stopped.
			}
			continue // retry.
		}
		tracked := make(map[string]bool)
		for _, p := range packages {
			for _, st := range p.Status {
				if st.BroadcastTxID != "" {
					tracked[st.BroadcastTxID] = true
				}
			}
		}
		return tracked, false
	}
}

func (f *PoolFollower) initCursorAtTip() (string, bool) {
	for {
		height, err := f.l1.GetBlockCount()
		if err == nil {
			var hash string
			hash, err = f.l1.GetBlockHash(height)
			if err == nil {
				log.Println("PoolFollower: starting cursor at height", height)
				return hash, false
			}
		}
		log.Println("PoolFollower: error retrieving chain tip:", err)
		if f.sleepInterrupted(RETRY_DELAY) {
			return "", true // stopped.
		}
		// retry.
	}
}

func (f *PoolFollower) beginStoreTxn() (tx bump.StoreTransaction) {
	for {
		tx, err := f.store.Begin()
		if err != nil {
			log.Println("PoolFollower: beginStoreTxn: cannot begin:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return nil // stopped.
			}
			continue // retry.
		}
		return tx
	}
}

func (f *PoolFollower) fetchChainPos() (bump.ChainPos, bool) {
	for {
		pos, err := f.store.GetChainPos()
		if err != nil {
			if bump.IsNotFoundError(err) {
				return bump.ChainPos{}, false // empty cursor.
			}
			log.Println("PoolFollower: error retrieving chain cursor:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return bump.ChainPos{}, true // stopped.
			}
		} else {
			return pos, false
		}
	}
}

func (f *PoolFollower) fetchBlock(blockHash string) (bump.RpcBlock, bool) {
	for {
		block, err := f.l1.GetBlock(blockHash)
		if err != nil {
			log.Println("PoolFollower: error retrieving block:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return bump.RpcBlock{}, true // stopped.
			}
		} else {
			return block, false
		}
	}
}

func (f *PoolFollower) fetchBlockHeader(blockHash string) (bump.RpcBlockHeader, bool) {
	for {
		block, err := f.l1.GetBlockHeader(blockHash)
		if err != nil {
			log.Println("PoolFollower: error retrieving block header:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return bump.RpcBlockHeader{}, true // stopped.
			}
		} else {
			return block, false
		}
	}
}

func (f *PoolFollower) fetchRawMempool() ([]string, bool) {
	for {
		txids, err := f.l1.GetRawMempool()
		if err != nil {
			log.Println("PoolFollower: error retrieving raw mempool:", err)
			if f.sleepInterrupted(RETRY_DELAY) {
				return nil, true // stopped.
			}
		} else {
			return txids, false
		}
	}
}

func (f *PoolFollower) sleepInterrupted(d time.Duration) bool {
	select {
	case <-f.stop:
		// no work to do, just shut down.
		f.stopped <- true
		return true
	case <-time.After(d):
		return false
	}
}

func (f *PoolFollower) checkShutdown() bool {
	select {
	case <-f.stop:
		// no work to do, just shut down.
		f.stopped <- true
		return true
	default:
		return false
	}
}
