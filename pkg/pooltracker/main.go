package pooltracker

import (
	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/bumpkit/bumpkit/pkg/conductor"
)

func StartPoolTracker(c *conductor.Conductor, conf bump.Config, l1 bump.L1, store bump.Store, bus bump.MessageBus) (*TipChaser, error) {
	// Start the TipChaser service
	tc, err := NewTipChaser(conf, l1, bus)
	if err != nil {
		return nil, err
	}
	c.Service("TipChaser", tc)

	// Start the PoolFollower service
	pf, err := NewPoolFollower(conf, l1, store, bus)
	if err != nil {
		return nil, err
	}
	tc.Subscribe(pf.ReceiveBestBlock, false) // non-blocking.
	c.Service("PoolFollower", pf)

	return tc, nil
}
